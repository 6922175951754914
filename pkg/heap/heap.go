// Package heap is a small mark-sweep object arena that drives the global
// handle table through its collection protocol.
//
// Objects are addressed by handles.Object indices. An object carries
// integer-keyed properties; a property holding a handles.Object is a
// reference the collector traces. Nothing outside the heap keeps an object
// alive except global handles, eternal handles and the immortal Undefined
// object, so an object with no handle is collected at the next pass.
package heap

import (
	"fmt"
	"log/slog"

	"github.com/dankurka/v8/pkg/handles"
)

type object struct {
	live  bool
	mark  uint32
	props map[int]any
}

// GCCallback runs before or after a collection of the given kind.
type GCCallback func(kind handles.CollectionKind)

// Heap owns the objects of one runtime instance. It is not safe for
// concurrent use.
type Heap struct {
	objects []object
	free    []handles.Object
	live    int

	globals  *handles.GlobalHandles
	eternals *handles.EternalHandles

	undefined handles.Object
	logger    *slog.Logger

	prologue []GCCallback
	epilogue []GCCallback

	collecting bool
	epoch      uint32
	stack      []handles.Object
	totals     Stats
}

// Stats summarises the heap.
type Stats struct {
	Live        int
	Capacity    int
	Allocated   int // total over the heap's lifetime
	Swept       int // total over the heap's lifetime
	Collections int
	Minor       int
}

// New creates a heap whose roots are the given handle tables.
func New(globals *handles.GlobalHandles, eternals *handles.EternalHandles, opts ...Option) *Heap {
	cfg := newConfig(opts)
	h := &Heap{
		// Slot 0 is handles.Nil.
		objects:  make([]object, 1, 64),
		globals:  globals,
		eternals: eternals,
		logger:   cfg.logger,
	}
	h.undefined = h.Allocate()
	return h
}

// Undefined returns the immortal undefined object.
func (h *Heap) Undefined() handles.Object {
	return h.undefined
}

// Globals returns the global handle table the heap traces.
func (h *Heap) Globals() *handles.GlobalHandles {
	return h.globals
}

// Eternals returns the eternal handle table the heap traces.
func (h *Heap) Eternals() *handles.EternalHandles {
	return h.eternals
}

// Allocate creates an empty object.
func (h *Heap) Allocate() handles.Object {
	var ref handles.Object
	if n := len(h.free); n > 0 {
		ref = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		h.objects = append(h.objects, object{})
		ref = handles.Object(len(h.objects) - 1)
	}
	h.objects[ref] = object{live: true}
	h.live++
	h.totals.Allocated++
	return ref
}

// IsLive reports whether obj is an allocated object.
func (h *Heap) IsLive(obj handles.Object) bool {
	return obj != handles.Nil && int(obj) < len(h.objects) && h.objects[obj].live
}

// Set stores value under key. A handles.Object value is a traced reference.
func (h *Heap) Set(obj handles.Object, key int, value any) {
	o := h.mustLive(obj, "Set")
	if o.props == nil {
		o.props = make(map[int]any)
	}
	o.props[key] = value
}

// Get returns the value stored under key.
func (h *Heap) Get(obj handles.Object, key int) (any, bool) {
	if !h.IsLive(obj) {
		return nil, false
	}
	v, ok := h.objects[obj].props[key]
	return v, ok
}

// Delete removes key from obj.
func (h *Heap) Delete(obj handles.Object, key int) {
	delete(h.mustLive(obj, "Delete").props, key)
}

// LiveObjects returns the number of allocated objects, Undefined included.
func (h *Heap) LiveObjects() int {
	return h.live
}

// Stats returns a snapshot of the heap counters.
func (h *Heap) Stats() Stats {
	s := h.totals
	s.Live = h.live
	s.Capacity = len(h.objects) - 1
	return s
}

// AddPrologueCallback registers cb to run before every collection.
// Prologue callbacks are where object groups are registered.
func (h *Heap) AddPrologueCallback(cb GCCallback) {
	h.prologue = append(h.prologue, cb)
}

// AddEpilogueCallback registers cb to run after every collection.
func (h *Heap) AddEpilogueCallback(cb GCCallback) {
	h.epilogue = append(h.epilogue, cb)
}

func (h *Heap) mustLive(obj handles.Object, op string) *object {
	if !h.IsLive(obj) {
		panic(fmt.Sprintf("heap: %s on dead object %d", op, obj))
	}
	return &h.objects[obj]
}
