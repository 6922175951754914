package handles

import (
	"errors"
	"fmt"
)

// Block allocator
//
// Nodes live in blocks of BlockSize. All free nodes of all blocks form one
// free list; a fresh block links its nodes in index order so allocation fills
// low indices first. Releasing a node never frees its block. Empty blocks are
// dropped by reclaim, which runs after full collections and keeps one empty
// block around as a spare so create/destroy churn does not reallocate.

// BlockSize is the number of nodes per block.
const BlockSize = 256

// ErrBlockInvariant is wrapped by every error VerifyBlockInvariants returns.
var ErrBlockInvariant = errors.New("handles: block invariant violated")

type nodeBlock struct {
	nodes [BlockSize]Node
	used  int
	owner *GlobalHandles
}

type blockAllocator struct {
	blocks    []*nodeBlock
	firstFree *Node
	freeCount int
	reclaimed int // blocks dropped over the table's lifetime
}

func newNodeBlock(owner *GlobalHandles) *nodeBlock {
	b := &nodeBlock{owner: owner}
	for i := range b.nodes {
		b.nodes[i].index = uint8(i)
		b.nodes[i].block = b
	}
	return b
}

func (a *blockAllocator) grow(owner *GlobalHandles) {
	b := newNodeBlock(owner)
	a.blocks = append(a.blocks, b)
	for i := BlockSize - 1; i >= 0; i-- {
		n := &b.nodes[i]
		n.nextFree = a.firstFree
		a.firstFree = n
	}
	a.freeCount += BlockSize
}

func (a *blockAllocator) allocate(owner *GlobalHandles) *Node {
	if a.firstFree == nil {
		a.grow(owner)
	}
	n := a.firstFree
	a.firstFree = n.nextFree
	n.nextFree = nil
	a.freeCount--
	n.block.used++
	return n
}

func (a *blockAllocator) release(n *Node) {
	n.reset()
	n.nextFree = a.firstFree
	a.firstFree = n
	a.freeCount++
	n.block.used--
}

func (a *blockAllocator) capacity() int {
	return len(a.blocks) * BlockSize
}

// reclaim drops empty blocks beyond the first one and returns how many were
// dropped. Must not run while nodes are PENDING or NEAR_DEATH.
func (a *blockAllocator) reclaim() int {
	kept := a.blocks[:0]
	spare := false
	removed := 0
	for _, b := range a.blocks {
		if b.used == 0 {
			if spare {
				removed++
				continue
			}
			spare = true
		}
		kept = append(kept, b)
	}
	for i := len(kept); i < len(a.blocks); i++ {
		a.blocks[i] = nil
	}
	a.blocks = kept
	if removed > 0 {
		a.rebuildFreeList()
		a.reclaimed += removed
	}
	return removed
}

func (a *blockAllocator) rebuildFreeList() {
	a.firstFree = nil
	a.freeCount = 0
	for bi := len(a.blocks) - 1; bi >= 0; bi-- {
		b := a.blocks[bi]
		for i := BlockSize - 1; i >= 0; i-- {
			n := &b.nodes[i]
			if n.state != NodeFree {
				continue
			}
			n.nextFree = a.firstFree
			a.firstFree = n
			a.freeCount++
		}
	}
}

// forEach calls fn for every node that is not FREE, in block order.
func (a *blockAllocator) forEach(fn func(n *Node)) {
	for _, b := range a.blocks {
		if b.used == 0 {
			continue
		}
		for i := range b.nodes {
			if n := &b.nodes[i]; n.state != NodeFree {
				fn(n)
			}
		}
	}
}

func (a *blockAllocator) verify(owner *GlobalHandles, live int) error {
	onList := make(map[*Node]struct{}, a.freeCount)
	for n := a.firstFree; n != nil; n = n.nextFree {
		if _, dup := onList[n]; dup {
			return fmt.Errorf("%w: node %d appears twice on the free list", ErrBlockInvariant, n.index)
		}
		if n.state != NodeFree {
			return fmt.Errorf("%w: node %d on the free list is %v", ErrBlockInvariant, n.index, n.state)
		}
		if n.block == nil || n.block.owner != owner {
			return fmt.Errorf("%w: node %d on the free list belongs to another table", ErrBlockInvariant, n.index)
		}
		onList[n] = struct{}{}
	}
	if len(onList) != a.freeCount {
		return fmt.Errorf("%w: free list has %d nodes, expected %d", ErrBlockInvariant, len(onList), a.freeCount)
	}

	counted := 0
	for bi, b := range a.blocks {
		used := 0
		for i := range b.nodes {
			n := &b.nodes[i]
			_, free := onList[n]
			switch {
			case n.state == NodeFree && !free:
				return fmt.Errorf("%w: free node %d of block %d is not on the free list", ErrBlockInvariant, i, bi)
			case n.state != NodeFree && free:
				return fmt.Errorf("%w: %v node %d of block %d is on the free list", ErrBlockInvariant, n.state, i, bi)
			case n.state != NodeFree:
				used++
			}
		}
		if used != b.used {
			return fmt.Errorf("%w: block %d counts %d used nodes, found %d", ErrBlockInvariant, bi, b.used, used)
		}
		counted += used
	}
	if counted != live {
		return fmt.Errorf("%w: %d live nodes in blocks, table counts %d", ErrBlockInvariant, counted, live)
	}
	if free := a.capacity() - live; free != a.freeCount {
		return fmt.Errorf("%w: capacity %d minus live %d is %d, free list has %d",
			ErrBlockInvariant, a.capacity(), live, free, a.freeCount)
	}
	return nil
}
