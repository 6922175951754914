package handles

import "fmt"

// NodeState is the lifecycle tag of a Node.
type NodeState uint8

const (
	NodeFree      NodeState = iota // on the free list
	NodeNormal                     // strong handle
	NodeWeak                       // weak handle, referent not yet found unreachable
	NodePending                    // weak handle whose referent was found unreachable
	NodeNearDeath                  // weak callback is running
)

func (s NodeState) String() string {
	switch s {
	case NodeFree:
		return "FREE"
	case NodeNormal:
		return "NORMAL"
	case NodeWeak:
		return "WEAK"
	case NodePending:
		return "PENDING"
	case NodeNearDeath:
		return "NEAR_DEATH"
	default:
		return fmt.Sprintf("NodeState(%d)", s)
	}
}

// WeakCallback runs once the referent of a weak handle is found unreachable.
// The callback may destroy the handle, revive it with ClearWeak or MakeWeak,
// or do nothing, in which case the handle is released afterwards.
type WeakCallback func(gh *GlobalHandles, h Handle, data any)

// Node is a single handle slot.
type Node struct {
	object      Object
	state       NodeState
	independent bool
	index       uint8
	// generation changes every time the node is released so stale Handles
	// can be told apart from the node's next occupant.
	generation uint32
	callback   WeakCallback
	data       any

	nextFree *Node
	block    *nodeBlock
}

func (n *Node) isWeakRetainer() bool {
	return n.state == NodeWeak || n.state == NodePending
}

func (n *Node) acquire(obj Object) {
	n.object = obj
	n.state = NodeNormal
	n.independent = false
	n.callback = nil
	n.data = nil
}

func (n *Node) reset() {
	n.object = Nil
	n.state = NodeFree
	n.independent = false
	n.callback = nil
	n.data = nil
	n.generation++
}

func (n *Node) handle() Handle {
	return Handle{node: n, gen: n.generation}
}
