package handles

import "log/slog"

// Weak handle finalization
//
// After marking, the collector asks the table which WEAK nodes point at
// unmarked objects; those become PENDING. The collector keeps their objects
// alive for this cycle (IterateWeakRoots) and, once the heap is consistent,
// calls FinalizeWeak. Finalization works on a snapshot of the PENDING set, so
// callbacks may create and destroy handles freely.

// IdentifyWeakHandles marks every WEAK node whose object is unreachable as
// PENDING and returns how many were marked.
func (gh *GlobalHandles) IdentifyWeakHandles(isUnreachable func(Object) bool) int {
	return gh.identify(isUnreachable, false)
}

// IdentifyIndependentWeakHandles is IdentifyWeakHandles restricted to
// independent nodes. Minor collections use it.
func (gh *GlobalHandles) IdentifyIndependentWeakHandles(isUnreachable func(Object) bool) int {
	return gh.identify(isUnreachable, true)
}

func (gh *GlobalHandles) identify(isUnreachable func(Object) bool, independentOnly bool) int {
	pending := 0
	gh.alloc.forEach(func(n *Node) {
		if n.state != NodeWeak || (independentOnly && !n.independent) {
			return
		}
		if isUnreachable(n.object) {
			n.state = NodePending
			pending++
		}
	})
	return pending
}

// FinalizeWeak runs the weak callbacks of all PENDING nodes and returns the
// number of nodes released. A node whose callback neither destroys nor
// revives it is released when the callback returns. Panics raised by a
// callback are not recovered.
func (gh *GlobalHandles) FinalizeWeak() int {
	var pending []*Node
	gh.alloc.forEach(func(n *Node) {
		if n.state == NodePending {
			pending = append(pending, n)
		}
	})

	released, revived := 0, 0
	for _, n := range pending {
		// An earlier callback may have destroyed or even reused this node.
		if n.state != NodePending {
			continue
		}
		if n.callback == nil {
			gh.release(n)
			released++
			continue
		}
		n.state = NodeNearDeath
		gen := n.generation
		n.callback(gh, n.handle(), n.data)
		switch {
		case n.generation != gen:
			released++
		case n.state == NodeNearDeath:
			gh.release(n)
			released++
		default:
			revived++
		}
	}
	gh.finalized += released

	if len(pending) > 0 {
		gh.logger.Debug("weak handles finalized",
			slog.Int("pending", len(pending)),
			slog.Int("released", released),
			slog.Int("revived", revived))
	}
	return released
}
