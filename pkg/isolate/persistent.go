package isolate

import "github.com/dankurka/v8/pkg/handles"

// Persistent owns one global handle. The zero Persistent is empty.
type Persistent struct {
	iso *Isolate
	h   handles.Handle
}

// PersistentCallback is the weak callback of a Persistent. It usually calls
// p.Dispose.
type PersistentCallback func(iso *Isolate, p *Persistent, data any)

// NewPersistent creates a strong persistent handle to obj.
func NewPersistent(iso *Isolate, obj handles.Object) *Persistent {
	return &Persistent{iso: iso, h: iso.globals.Create(obj)}
}

// IsEmpty reports whether p holds no handle.
func (p *Persistent) IsEmpty() bool {
	return p == nil || p.h.IsEmpty()
}

// Object returns the referenced object, or Nil for an empty Persistent.
func (p *Persistent) Object() handles.Object {
	if p.IsEmpty() {
		return handles.Nil
	}
	return p.h.Object()
}

// Handle returns the underlying global handle.
func (p *Persistent) Handle() handles.Handle {
	return p.h
}

// Dispose releases the handle and empties p. Disposing an empty Persistent
// does nothing.
func (p *Persistent) Dispose() {
	if p.IsEmpty() {
		return
	}
	p.iso.globals.Destroy(p.h)
	p.h = handles.Handle{}
}

// MakeWeak makes p weak. cb runs once the object is unreachable; a nil cb
// releases the handle, leaving p empty.
func (p *Persistent) MakeWeak(data any, cb PersistentCallback) {
	p.iso.globals.MakeWeak(p.h, data, func(_ *handles.GlobalHandles, _ handles.Handle, data any) {
		if cb == nil {
			p.h = handles.Handle{}
			return
		}
		cb(p.iso, p, data)
		if !p.h.IsEmpty() && (p.h.IsDestroyed() || p.h.State() == handles.NodeNearDeath) {
			// Destroyed by the callback or released by the table once it returns.
			p.h = handles.Handle{}
		}
	})
}

// ClearWeak makes p strong again.
func (p *Persistent) ClearWeak() {
	p.iso.globals.ClearWeak(p.h)
}

// MarkIndependent lets minor collections finalize p.
func (p *Persistent) MarkIndependent() {
	p.iso.globals.MarkIndependent(p.h)
}

// IsWeak reports whether p is weak.
func (p *Persistent) IsWeak() bool {
	return !p.IsEmpty() && p.iso.globals.IsWeak(p.h)
}

// IsNearDeath reports whether p's weak callback is pending or running.
func (p *Persistent) IsNearDeath() bool {
	return !p.IsEmpty() && p.iso.globals.IsNearDeath(p.h)
}

// IsIndependent reports whether p is independent.
func (p *Persistent) IsIndependent() bool {
	return !p.IsEmpty() && p.iso.globals.IsIndependent(p.h)
}

// SetObjectGroupId adds p to the object group id.
func (p *Persistent) SetObjectGroupId(id handles.GroupID) {
	p.iso.globals.SetObjectGroupId(p.h, id)
}
