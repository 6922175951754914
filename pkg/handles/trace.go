package handles

import (
	"fmt"
	"log/slog"
)

// BeginTrace starts a collection pass. Full passes fold pending group
// registrations so the collector sees a stable registry.
func (gh *GlobalHandles) BeginTrace(kind CollectionKind) {
	if gh.debug && gh.tracing {
		panic("handles: BeginTrace inside a trace")
	}
	gh.tracing = true
	if kind == FullCollection {
		gh.computeObjectGroupsAndImplicitReferences()
	}
}

// EndTrace finishes a collection pass. After a full pass every group
// registration is dropped and empty blocks beyond one spare are reclaimed;
// minor passes leave both alone.
func (gh *GlobalHandles) EndTrace(kind CollectionKind) {
	gh.tracing = false
	gh.collections++
	if kind != FullCollection {
		return
	}
	gh.RemoveObjectGroups()
	gh.RemoveImplicitRefGroups()

	if removed := gh.ReclaimBlocks(); removed > 0 {
		gh.logger.Debug("handle blocks reclaimed",
			slog.Int("removed", removed),
			slog.Int("blocks", len(gh.alloc.blocks)),
			slog.Int("live", gh.count))
	}
	if gh.debug {
		if err := gh.VerifyBlockInvariants(); err != nil {
			panic(fmt.Sprintf("handles: after full collection: %v", err))
		}
	}
}

// AbortTrace ends a pass that did not reach EndTrace, typically because a
// callback panicked. It is a no-op outside a trace. A full pass drops its
// group registrations. A node left NEAR_DEATH by its callback is released;
// PENDING nodes stay pending and are finalized by the next pass.
func (gh *GlobalHandles) AbortTrace(kind CollectionKind) {
	if !gh.tracing {
		return
	}
	gh.tracing = false
	if kind == FullCollection {
		gh.RemoveObjectGroups()
		gh.RemoveImplicitRefGroups()
	}
	released := 0
	gh.alloc.forEach(func(n *Node) {
		if n.state == NodeNearDeath {
			gh.release(n)
			released++
		}
	})
	gh.finalized += released
	gh.logger.Warn("collection pass aborted",
		slog.String("kind", kind.String()),
		slog.Int("released", released))
}

// ReclaimBlocks drops empty blocks, keeping one as a spare, and returns how
// many were dropped. Collectors normally reach it through EndTrace.
func (gh *GlobalHandles) ReclaimBlocks() int {
	if gh.debug {
		gh.alloc.forEach(func(n *Node) {
			if n.state == NodePending || n.state == NodeNearDeath {
				panic(fmt.Sprintf("handles: ReclaimBlocks with %v node", n.state))
			}
		})
	}
	return gh.alloc.reclaim()
}
