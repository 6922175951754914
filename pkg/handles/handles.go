// Package handles implements the global handle table of the managed heap.
//
// Global handles let code that lives outside the collected heap keep long-lived
// references to heap objects. Every handle is a Node inside a fixed-size block;
// blocks are pooled by the table and only reclaimed after a full collection.
//
// Handle lifecycle:
//
//	FREE -> NORMAL <-> WEAK -> PENDING -> NEAR_DEATH -> FREE
//	                                          \-> NORMAL / WEAK (revived)
//
// During a collection pause the collector drives the table through
// BeginTrace, IterateObjectGroups / PropagateImplicitReferences,
// IdentifyWeakHandles, FinalizeWeak and EndTrace, in that order.
//
// The table is owned by a single runtime instance and is not safe for
// concurrent use.
package handles

import "fmt"

// Object is an opaque reference to a heap object: a stable arena index.
type Object uint32

// Nil is the null object reference.
const Nil Object = 0

// GroupID is an application-assigned identifier correlating SetObjectGroupId,
// SetRetainedObjectInfo and SetReferenceFromGroup calls.
type GroupID uint64

// CollectionKind tells the table what sort of pass is being traced.
type CollectionKind int

const (
	FullCollection  CollectionKind = iota // mark-sweep of the whole heap
	MinorCollection                       // only independent weak handles are finalized
)

func (k CollectionKind) String() string {
	switch k {
	case FullCollection:
		return "full"
	case MinorCollection:
		return "minor"
	default:
		return fmt.Sprintf("CollectionKind(%d)", int(k))
	}
}

// ObjectVisitor receives the objects the table reports as roots or as
// retained. The slice is only valid for the duration of the call.
type ObjectVisitor interface {
	VisitPointers(objects []Object)
}

// VisitorFunc adapts a function to ObjectVisitor.
type VisitorFunc func(objects []Object)

// VisitPointers calls f(objects).
func (f VisitorFunc) VisitPointers(objects []Object) {
	f(objects)
}

// Handle is a caller-held reference to a Node. The zero Handle is empty.
// Handles are comparable and may be used as map keys.
type Handle struct {
	node *Node
	gen  uint32
}

// IsEmpty reports whether the handle refers to no node.
func (h Handle) IsEmpty() bool {
	return h.node == nil
}

// IsDestroyed reports whether the handle is empty or its node has been
// released since the handle was taken. It never panics.
func (h Handle) IsDestroyed() bool {
	return h.node == nil || h.node.generation != h.gen
}

// Object returns the referenced object.
func (h Handle) Object() Object {
	h.check("Object")
	return h.node.object
}

// State returns the lifecycle state of the underlying node.
func (h Handle) State() NodeState {
	h.check("State")
	return h.node.state
}

func (h Handle) String() string {
	if h.node == nil {
		return "Handle(empty)"
	}
	return fmt.Sprintf("Handle(block=%p index=%d gen=%d)", h.node.block, h.node.index, h.gen)
}

// check panics on use of a destroyed handle when the owning table runs with
// debug checks. Without them, use-after-destroy is undefined.
func (h Handle) check(op string) {
	if h.node == nil {
		panic(fmt.Sprintf("handles: %s on empty handle", op))
	}
	owner := h.node.block.owner
	if owner == nil || !owner.debug {
		return
	}
	if h.node.generation != h.gen {
		panic(fmt.Sprintf("handles: %s on destroyed %v (node generation %d)", op, h, h.node.generation))
	}
}
