// Package isolate bundles one heap with its global and eternal handle tables
// and exposes the embedder-facing API: persistent handles, object groups,
// eternal handles and collection entry points.
package isolate

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/dankurka/v8/pkg/handles"
	"github.com/dankurka/v8/pkg/heap"
)

// Isolate is one runtime instance. It is not safe for concurrent use.
type Isolate struct {
	id       uuid.UUID
	logger   *slog.Logger
	globals  *handles.GlobalHandles
	eternals *handles.EternalHandles
	heap     *heap.Heap
}

// New creates an isolate with an empty heap.
func New(opts ...Option) *Isolate {
	cfg := newConfig(opts)
	id := uuid.New()
	logger := cfg.logger.With(slog.String("isolate", id.String()))

	hopts := []handles.Option{
		handles.WithLogger(logger),
		// The heap iterates groups to a marking fixed point.
		handles.WithRetainDeferredGroups(),
	}
	if cfg.debug {
		hopts = append(hopts, handles.WithDebugChecks())
	}
	if cfg.observer != nil {
		hopts = append(hopts, handles.WithGroupObserver(cfg.observer))
	}

	iso := &Isolate{
		id:       id,
		logger:   logger,
		globals:  handles.NewGlobalHandles(hopts...),
		eternals: handles.NewEternalHandles(handles.WithLogger(logger)),
	}
	iso.heap = heap.New(iso.globals, iso.eternals, heap.WithLogger(logger))
	logger.Debug("isolate created", slog.Bool("debug", cfg.debug))
	return iso
}

// ID returns the isolate's unique identifier.
func (iso *Isolate) ID() uuid.UUID {
	return iso.id
}

func (iso *Isolate) String() string {
	return "Isolate(" + iso.id.String() + ")"
}

// Heap returns the isolate's heap.
func (iso *Isolate) Heap() *heap.Heap {
	return iso.heap
}

// GlobalHandles returns the isolate's global handle table.
func (iso *Isolate) GlobalHandles() *handles.GlobalHandles {
	return iso.globals
}

// EternalHandles returns the isolate's eternal handle table.
func (iso *Isolate) EternalHandles() *handles.EternalHandles {
	return iso.eternals
}

// Undefined returns the immortal undefined object.
func (iso *Isolate) Undefined() handles.Object {
	return iso.heap.Undefined()
}

// NewObject allocates an empty object. Without a handle it is collected at
// the next pass.
func (iso *Isolate) NewObject() handles.Object {
	return iso.heap.Allocate()
}

// Set stores value under key on obj.
func (iso *Isolate) Set(obj handles.Object, key int, value any) {
	iso.heap.Set(obj, key, value)
}

// Get reads key from obj.
func (iso *Isolate) Get(obj handles.Object, key int) (any, bool) {
	return iso.heap.Get(obj, key)
}

// CreateHandle creates a strong global handle to obj.
func (iso *Isolate) CreateHandle(obj handles.Object) handles.Handle {
	return iso.globals.Create(obj)
}

// DestroyHandle releases h.
func (iso *Isolate) DestroyHandle(h handles.Handle) {
	iso.globals.Destroy(h)
}

// MakeWeak makes h weak; see handles.GlobalHandles.MakeWeak.
func (iso *Isolate) MakeWeak(h handles.Handle, data any, cb handles.WeakCallback) {
	iso.globals.MakeWeak(h, data, cb)
}

// SetObjectGroupId adds h to the object group id for the next full
// collection.
func (iso *Isolate) SetObjectGroupId(h handles.Handle, id handles.GroupID) {
	iso.globals.SetObjectGroupId(h, id)
}

// AddObjectGroup registers an explicit object group.
func (iso *Isolate) AddObjectGroup(members []handles.Handle, info handles.RetainedObjectInfo) {
	iso.globals.AddObjectGroup(members, info)
}

// SetRetainedObjectInfo attaches info to the object group id.
func (iso *Isolate) SetRetainedObjectInfo(id handles.GroupID, info handles.RetainedObjectInfo) {
	iso.globals.SetRetainedObjectInfo(id, info)
}

// SetReferenceFromGroup makes child reachable whenever group id is.
func (iso *Isolate) SetReferenceFromGroup(id handles.GroupID, child handles.Handle) {
	iso.globals.SetReferenceFromGroup(id, child)
}

// AddImplicitReferences makes children reachable whenever parent is.
func (iso *Isolate) AddImplicitReferences(parent handles.Handle, children []handles.Handle) {
	iso.globals.AddImplicitReferences(parent, children)
}

// GlobalHandlesCount returns the number of live global handles.
func (iso *Isolate) GlobalHandlesCount() int {
	return iso.globals.GlobalHandlesCount()
}

// BlockCount returns the number of handle blocks held.
func (iso *Isolate) BlockCount() int {
	return iso.globals.BlockCount()
}

// NumberOfEternalHandles returns the number of eternal handles.
func (iso *Isolate) NumberOfEternalHandles() int {
	return iso.eternals.NumberOfHandles()
}
