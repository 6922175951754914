package handles

import "testing"

// testRetainedObjectInfo records disposal and fails the test on a second one.
type testRetainedObjectInfo struct {
	t        *testing.T
	label    string
	disposed int
}

func newTestInfo(t *testing.T, label string) *testRetainedObjectInfo {
	return &testRetainedObjectInfo{t: t, label: label}
}

func (i *testRetainedObjectInfo) Dispose() {
	i.disposed++
	if i.disposed > 1 {
		i.t.Errorf("info %q disposed %d times", i.label, i.disposed)
	}
}

func (i *testRetainedObjectInfo) IsEquivalent(other RetainedObjectInfo) bool {
	return other == RetainedObjectInfo(i)
}

func (i *testRetainedObjectInfo) GetHash() int64 { return 0 }

func (i *testRetainedObjectInfo) GetLabel() string { return i.label }

func (i *testRetainedObjectInfo) hasBeenDisposed() bool { return i.disposed > 0 }

// skipper is a CanSkip predicate that records every object it is asked about.
type skipper struct {
	skippable map[Object]bool
	called    []Object
}

func newSkipper(skippable ...Object) *skipper {
	s := &skipper{skippable: make(map[Object]bool)}
	for _, o := range skippable {
		s.skippable[o] = true
	}
	return s
}

func (s *skipper) canSkip(o Object) bool {
	s.called = append(s.called, o)
	return s.skippable[o]
}

func (s *skipper) wasCalledFor(o Object) bool {
	for _, c := range s.called {
		if c == o {
			return true
		}
	}
	return false
}

// recordingVisitor collects every visited object.
type recordingVisitor struct {
	visited []Object
}

func (v *recordingVisitor) VisitPointers(objects []Object) {
	v.visited = append(v.visited, objects...)
}

func (v *recordingVisitor) contains(o Object) bool {
	for _, x := range v.visited {
		if x == o {
			return true
		}
	}
	return false
}

// fakeHeap hands out distinct object references.
type fakeHeap struct {
	next Object
}

func (o *fakeHeap) new() Object {
	o.next++
	return o.next
}

// collect runs a full pass in which every object in dead is unreachable.
func collect(gh *GlobalHandles, dead map[Object]bool) int {
	return collectKind(gh, FullCollection, dead)
}

func collectKind(gh *GlobalHandles, kind CollectionKind, dead map[Object]bool) int {
	unreachable := func(o Object) bool { return dead[o] }
	gh.BeginTrace(kind)
	if kind == FullCollection {
		gh.IdentifyWeakHandles(unreachable)
	} else {
		gh.IdentifyIndependentWeakHandles(unreachable)
	}
	released := gh.FinalizeWeak()
	gh.EndTrace(kind)
	return released
}
