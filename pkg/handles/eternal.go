package handles

import (
	"fmt"
	"log/slog"
)

// Eternal handles
//
// Eternal handles are roots for the lifetime of the runtime. They are never
// weak and never destroyed, so the table is append-only: an index is split
// into a block number and an offset, and blocks are never moved or freed.

const (
	eternalShift     = 8
	eternalBlockSize = 1 << eternalShift
	eternalMask      = eternalBlockSize - 1
)

// InvalidIndex is returned for objects that cannot be eternalized.
const InvalidIndex = -1

// SingletonHandle names a well-known eternal slot.
type SingletonHandle int

const (
	SingletonTemplateOne SingletonHandle = iota
	SingletonTemplateTwo
	SingletonDateCacheVersion

	NumberOfSingletonHandles
)

// EternalHandles is the append-only eternal handle table.
type EternalHandles struct {
	blocks     [][]Object
	size       int
	singletons [NumberOfSingletonHandles]int
	logger     *slog.Logger
}

// NewEternalHandles creates an empty table. Only WithLogger applies.
func NewEternalHandles(opts ...Option) *EternalHandles {
	cfg := newConfig(opts)
	e := &EternalHandles{logger: cfg.logger}
	for i := range e.singletons {
		e.singletons[i] = InvalidIndex
	}
	return e
}

// Create stores obj and returns its index. Nil is not stored.
func (e *EternalHandles) Create(obj Object) int {
	if obj == Nil {
		return InvalidIndex
	}
	block, offset := e.size>>eternalShift, e.size&eternalMask
	if offset == 0 {
		e.blocks = append(e.blocks, make([]Object, eternalBlockSize))
		e.logger.Debug("eternal handle block added", slog.Int("blocks", len(e.blocks)))
	}
	e.blocks[block][offset] = obj
	index := e.size
	e.size++
	return index
}

// Get returns the object stored at index. It panics on an index Create never
// returned.
func (e *EternalHandles) Get(index int) Object {
	if index < 0 || index >= e.size {
		panic(fmt.Sprintf("handles: eternal index %d out of range [0,%d)", index, e.size))
	}
	return e.blocks[index>>eternalShift][index&eternalMask]
}

// NumberOfHandles returns the number of stored handles, singletons included.
func (e *EternalHandles) NumberOfHandles() int {
	return e.size
}

// CreateSingleton stores obj in the singleton slot s. A slot can be set once.
func (e *EternalHandles) CreateSingleton(obj Object, s SingletonHandle) {
	if e.Exists(s) {
		panic(fmt.Sprintf("handles: singleton %d already exists", s))
	}
	e.singletons[s] = e.Create(obj)
}

// Exists reports whether the singleton slot s is set.
func (e *EternalHandles) Exists(s SingletonHandle) bool {
	return e.singletons[s] != InvalidIndex
}

// GetSingleton returns the object in the singleton slot s.
func (e *EternalHandles) GetSingleton(s SingletonHandle) Object {
	if !e.Exists(s) {
		panic(fmt.Sprintf("handles: singleton %d does not exist", s))
	}
	return e.Get(e.singletons[s])
}

// IterateAllRoots visits every stored object.
func (e *EternalHandles) IterateAllRoots(v ObjectVisitor) {
	remaining := e.size
	for _, block := range e.blocks {
		n := remaining
		if n > eternalBlockSize {
			n = eternalBlockSize
		}
		v.VisitPointers(block[:n])
		remaining -= n
	}
}
