package isolate

import (
	"github.com/dankurka/v8/pkg/handles"
	"github.com/dankurka/v8/pkg/heap"
)

// CollectGarbage runs one full collection.
func (iso *Isolate) CollectGarbage() heap.CollectionResult {
	return iso.heap.Collect(handles.FullCollection)
}

// CollectAllAvailableGarbage runs full collections until weak callbacks stop
// releasing handles.
func (iso *Isolate) CollectAllAvailableGarbage() []heap.CollectionResult {
	return iso.heap.CollectAllAvailableGarbage()
}

// PerformScavenge runs one minor collection: only independent weak handles
// are finalized.
func (iso *Isolate) PerformScavenge() heap.CollectionResult {
	return iso.heap.Collect(handles.MinorCollection)
}

// AddGCPrologueCallback registers cb to run before every collection.
func (iso *Isolate) AddGCPrologueCallback(cb heap.GCCallback) {
	iso.heap.AddPrologueCallback(cb)
}

// AddGCEpilogueCallback registers cb to run after every collection.
func (iso *Isolate) AddGCEpilogueCallback(cb heap.GCCallback) {
	iso.heap.AddEpilogueCallback(cb)
}
