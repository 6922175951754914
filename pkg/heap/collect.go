package heap

import (
	"log/slog"
	"time"

	"github.com/dankurka/v8/pkg/handles"
)

// MaxCollectionRounds bounds CollectAllAvailableGarbage.
const MaxCollectionRounds = 7

// CollectionResult describes one collection.
type CollectionResult struct {
	Kind      handles.CollectionKind
	Marked    int
	Swept     int
	Pending   int // weak handles found unreachable
	Finalized int // weak handles released by finalization
	Duration  time.Duration
}

// Collect runs one collection of the given kind. It panics if called while a
// collection is already running, for example from a weak callback. A panic
// raised by a callback is not recovered, but the handle table's pass is
// aborted so later collections can run.
func (h *Heap) Collect(kind handles.CollectionKind) CollectionResult {
	if h.collecting {
		panic("heap: Collect during a collection")
	}
	h.collecting = true
	done := false
	defer func() {
		if !done {
			h.globals.AbortTrace(kind)
		}
		h.collecting = false
	}()
	start := time.Now()

	for _, cb := range h.prologue {
		cb(kind)
	}

	h.epoch++
	if h.epoch == 0 {
		// Wrapped; stale marks could now read as current.
		for i := range h.objects {
			h.objects[i].mark = 0
		}
		h.epoch = 1
	}

	res := CollectionResult{Kind: kind}
	gh := h.globals
	gh.BeginTrace(kind)

	visitor := handles.VisitorFunc(h.markAll)
	h.markObject(h.undefined)
	if h.eternals != nil {
		h.eternals.IterateAllRoots(visitor)
	}
	if kind == handles.FullCollection {
		gh.IterateStrongRoots(visitor)
		h.drain()
		h.processGroups(visitor)
		res.Pending = gh.IdentifyWeakHandles(h.isUnmarked)
	} else {
		gh.IterateStrongAndDependentRoots(visitor)
		h.drain()
		res.Pending = gh.IdentifyIndependentWeakHandles(h.isUnmarked)
	}

	// Objects awaiting their weak callback survive this pass.
	gh.IterateWeakRoots(visitor)
	h.drain()
	if kind == handles.FullCollection {
		h.processGroups(visitor)
	}

	res.Marked, res.Swept = h.sweep()
	res.Finalized = gh.FinalizeWeak()
	gh.EndTrace(kind)
	done = true

	for _, cb := range h.epilogue {
		cb(kind)
	}

	h.totals.Collections++
	if kind == handles.MinorCollection {
		h.totals.Minor++
	}
	h.totals.Swept += res.Swept
	res.Duration = time.Since(start)
	h.logger.Debug("collection finished",
		slog.String("kind", kind.String()),
		slog.Int("marked", res.Marked),
		slog.Int("swept", res.Swept),
		slog.Int("pending", res.Pending),
		slog.Int("finalized", res.Finalized),
		slog.Duration("duration", res.Duration))
	return res
}

// CollectAllAvailableGarbage runs full collections until weak finalization
// releases nothing, at most MaxCollectionRounds times. Objects freed by weak
// callbacks are swept by the following round.
func (h *Heap) CollectAllAvailableGarbage() []CollectionResult {
	var results []CollectionResult
	for round := 0; round < MaxCollectionRounds; round++ {
		res := h.Collect(handles.FullCollection)
		results = append(results, res)
		if res.Finalized == 0 {
			break
		}
	}
	return results
}

// processGroups marks object groups and implicit references to a fixed
// point.
func (h *Heap) processGroups(v handles.ObjectVisitor) {
	gh := h.globals
	for {
		progress := gh.IterateObjectGroups(v, h.isUnmarked)
		h.drain()
		if gh.PropagateImplicitReferences(h.isMarked, v) {
			progress = true
		}
		h.drain()
		if !progress {
			return
		}
	}
}

func (h *Heap) isMarked(obj handles.Object) bool {
	return h.IsLive(obj) && h.objects[obj].mark == h.epoch
}

// isUnmarked is the CanSkip predicate of group iteration. Nil and dead
// slots never keep a group alive.
func (h *Heap) isUnmarked(obj handles.Object) bool {
	return !h.isMarked(obj)
}

func (h *Heap) markAll(objs []handles.Object) {
	for _, obj := range objs {
		h.markObject(obj)
	}
}

func (h *Heap) markObject(obj handles.Object) {
	if !h.IsLive(obj) {
		return
	}
	o := &h.objects[obj]
	if o.mark == h.epoch {
		return
	}
	o.mark = h.epoch
	h.stack = append(h.stack, obj)
}

func (h *Heap) drain() {
	for len(h.stack) > 0 {
		obj := h.stack[len(h.stack)-1]
		h.stack = h.stack[:len(h.stack)-1]
		for _, v := range h.objects[obj].props {
			if ref, ok := v.(handles.Object); ok {
				h.markObject(ref)
			}
		}
	}
}

func (h *Heap) sweep() (marked, swept int) {
	for i := 1; i < len(h.objects); i++ {
		o := &h.objects[i]
		if !o.live {
			continue
		}
		if o.mark == h.epoch {
			marked++
			continue
		}
		*o = object{}
		h.free = append(h.free, handles.Object(i))
		h.live--
		swept++
	}
	return marked, swept
}
