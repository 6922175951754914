package isolate

import "github.com/dankurka/v8/pkg/handles"

// CreateEternal stores obj for the isolate's lifetime and returns its index.
func (iso *Isolate) CreateEternal(obj handles.Object) int {
	return iso.eternals.Create(obj)
}

// Eternalize stores obj unless *index already names an eternal handle, and
// records the index. *index must start as handles.InvalidIndex.
func (iso *Isolate) Eternalize(obj handles.Object, index *int) {
	if *index != handles.InvalidIndex {
		return
	}
	*index = iso.eternals.Create(obj)
}

// GetEternal returns the object stored at index.
func (iso *Isolate) GetEternal(index int) handles.Object {
	return iso.eternals.Get(index)
}

// Eternal is a typed wrapper around an eternal handle index. Use NewEternal
// or the zero value via Set.
type Eternal struct {
	index int
	set   bool
}

// NewEternal eternalizes obj.
func NewEternal(iso *Isolate, obj handles.Object) Eternal {
	var e Eternal
	e.Set(iso, obj)
	return e
}

// Set stores obj if e is still empty.
func (e *Eternal) Set(iso *Isolate, obj handles.Object) {
	if e.set {
		return
	}
	e.index = iso.eternals.Create(obj)
	e.set = e.index != handles.InvalidIndex
}

// IsEmpty reports whether e holds no object.
func (e Eternal) IsEmpty() bool {
	return !e.set
}

// Get returns the stored object, or Nil if e is empty.
func (e Eternal) Get(iso *Isolate) handles.Object {
	if !e.set {
		return handles.Nil
	}
	return iso.eternals.Get(e.index)
}
