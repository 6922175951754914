package handles

import (
	"fmt"
	"log/slog"
)

// GlobalHandles is the handle table of one runtime instance.
type GlobalHandles struct {
	alloc  blockAllocator
	count  int
	debug  bool
	logger *slog.Logger

	groupRegistry

	tracing     bool
	collections int
	finalized   int
	buf         []Object
}

// Stats is a snapshot of the table.
type Stats struct {
	Blocks          int
	Capacity        int
	Live            int
	Normal          int
	Weak            int
	Pending         int
	NearDeath       int
	Independent     int
	Free            int
	ReclaimedBlocks int // total over the table's lifetime
	FinalizedWeak   int // weak nodes released by FinalizeWeak, total
	Collections     int // EndTrace calls
}

// NewGlobalHandles creates an empty table. No blocks are allocated until the
// first Create.
func NewGlobalHandles(opts ...Option) *GlobalHandles {
	cfg := newConfig(opts)
	return &GlobalHandles{
		debug:  cfg.debug,
		logger: cfg.logger,
		groupRegistry: groupRegistry{
			retainDeferred: cfg.retainDeferred,
			observer:       cfg.observer,
		},
	}
}

// Create allocates a strong handle to obj.
func (gh *GlobalHandles) Create(obj Object) Handle {
	n := gh.alloc.allocate(gh)
	n.acquire(obj)
	gh.count++
	return n.handle()
}

// Destroy releases the handle. The handle must not be used afterwards.
func (gh *GlobalHandles) Destroy(h Handle) {
	gh.release(gh.node(h, "Destroy"))
}

func (gh *GlobalHandles) release(n *Node) {
	gh.alloc.release(n)
	gh.count--
}

// MakeWeak turns h into a weak handle. callback runs with data once the
// referent is found unreachable; a nil callback releases the handle silently.
// Calling MakeWeak from inside the handle's own callback re-arms it.
func (gh *GlobalHandles) MakeWeak(h Handle, data any, callback WeakCallback) {
	n := gh.node(h, "MakeWeak")
	if gh.debug && n.state != NodeNormal && n.state != NodeWeak && n.state != NodeNearDeath {
		panic(fmt.Sprintf("handles: MakeWeak on %v node", n.state))
	}
	n.state = NodeWeak
	n.callback = callback
	n.data = data
}

// MakeWeakIndependent is MakeWeak followed by setting the independent flag.
func (gh *GlobalHandles) MakeWeakIndependent(h Handle, data any, callback WeakCallback, independent bool) {
	gh.MakeWeak(h, data, callback)
	gh.node(h, "MakeWeakIndependent").independent = independent
}

// ClearWeak turns a weak handle back into a strong one and drops its
// callback. Inside a weak callback this revives the handle.
func (gh *GlobalHandles) ClearWeak(h Handle) {
	n := gh.node(h, "ClearWeak")
	if gh.debug && (n.state == NodeFree || n.state == NodePending) {
		panic(fmt.Sprintf("handles: ClearWeak on %v node", n.state))
	}
	n.state = NodeNormal
	n.callback = nil
	n.data = nil
}

// MarkIndependent exempts h from dependent tracing: minor collections may
// finalize it.
func (gh *GlobalHandles) MarkIndependent(h Handle) {
	n := gh.node(h, "MarkIndependent")
	if gh.debug && n.state == NodeFree {
		panic("handles: MarkIndependent on free node")
	}
	n.independent = true
}

// IsWeak reports whether h is WEAK.
func (gh *GlobalHandles) IsWeak(h Handle) bool {
	return gh.node(h, "IsWeak").state == NodeWeak
}

// IsNearDeath reports whether h is pending finalization or inside its
// callback.
func (gh *GlobalHandles) IsNearDeath(h Handle) bool {
	s := gh.node(h, "IsNearDeath").state
	return s == NodePending || s == NodeNearDeath
}

// IsIndependent reports whether h carries the independent flag.
func (gh *GlobalHandles) IsIndependent(h Handle) bool {
	return gh.node(h, "IsIndependent").independent
}

// GlobalHandlesCount returns the number of live handles.
func (gh *GlobalHandles) GlobalHandlesCount() int {
	return gh.count
}

// BlockCount returns the number of blocks held.
func (gh *GlobalHandles) BlockCount() int {
	return len(gh.alloc.blocks)
}

// VerifyBlockInvariants checks free-list and per-block accounting.
func (gh *GlobalHandles) VerifyBlockInvariants() error {
	return gh.alloc.verify(gh, gh.count)
}

// Stats returns a snapshot of the table.
func (gh *GlobalHandles) Stats() Stats {
	s := Stats{
		Blocks:          len(gh.alloc.blocks),
		Capacity:        gh.alloc.capacity(),
		Live:            gh.count,
		Free:            gh.alloc.freeCount,
		ReclaimedBlocks: gh.alloc.reclaimed,
		FinalizedWeak:   gh.finalized,
		Collections:     gh.collections,
	}
	gh.alloc.forEach(func(n *Node) {
		switch n.state {
		case NodeNormal:
			s.Normal++
		case NodeWeak:
			s.Weak++
		case NodePending:
			s.Pending++
		case NodeNearDeath:
			s.NearDeath++
		}
		if n.independent {
			s.Independent++
		}
	})
	return s
}

// IterateStrongRoots visits the objects of all NORMAL handles.
func (gh *GlobalHandles) IterateStrongRoots(v ObjectVisitor) {
	gh.iterate(v, func(n *Node) bool { return n.state == NodeNormal })
}

// IterateStrongAndDependentRoots visits NORMAL handles and weak handles that
// are not independent. Minor collections use it as their root set.
func (gh *GlobalHandles) IterateStrongAndDependentRoots(v ObjectVisitor) {
	gh.iterate(v, func(n *Node) bool {
		return n.state == NodeNormal || (n.state == NodeWeak && !n.independent)
	})
}

// IterateWeakRoots visits WEAK and PENDING handles so that objects awaiting
// their callback survive the current collection.
func (gh *GlobalHandles) IterateWeakRoots(v ObjectVisitor) {
	gh.iterate(v, (*Node).isWeakRetainer)
}

// IterateAllRoots visits every live handle.
func (gh *GlobalHandles) IterateAllRoots(v ObjectVisitor) {
	gh.iterate(v, func(*Node) bool { return true })
}

func (gh *GlobalHandles) iterate(v ObjectVisitor, match func(n *Node) bool) {
	for _, b := range gh.alloc.blocks {
		if b.used == 0 {
			continue
		}
		buf := gh.buf[:0]
		for i := range b.nodes {
			n := &b.nodes[i]
			if n.state != NodeFree && match(n) {
				buf = append(buf, n.object)
			}
		}
		if len(buf) > 0 {
			v.VisitPointers(buf)
		}
		gh.buf = buf[:0]
	}
}

// node resolves h, asserting ownership and freshness under debug checks.
func (gh *GlobalHandles) node(h Handle, op string) *Node {
	if h.node == nil {
		panic(fmt.Sprintf("handles: %s on empty handle", op))
	}
	if gh.debug {
		if h.node.block.owner != gh {
			panic(fmt.Sprintf("handles: %s on handle owned by another table", op))
		}
		if h.node.generation != h.gen {
			panic(fmt.Sprintf("handles: %s on destroyed %v", op, h))
		}
	}
	return h.node
}
