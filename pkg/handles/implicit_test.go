package handles

import "testing"

func TestImplicitReferences(t *testing.T) {
	var heap fakeHeap
	gh := NewGlobalHandles()

	g1s1 := gh.Create(heap.new())
	g1c1 := gh.Create(heap.new())
	g1c2 := gh.Create(heap.new())

	g2s1 := gh.Create(heap.new())
	g2s2 := gh.Create(heap.new())
	g2c1 := gh.Create(heap.new())

	gh.SetObjectGroupId(g1s1, 1)
	gh.SetObjectGroupId(g2s1, 2)
	gh.SetObjectGroupId(g2s2, 2)
	gh.SetReferenceFromGroup(1, g1c1)
	gh.SetReferenceFromGroup(1, g1c2)
	gh.SetReferenceFromGroup(2, g2c1)

	refs := gh.ImplicitRefGroups()
	if len(refs) != 2 {
		t.Fatalf("expected 2 implicit reference groups, got %d", len(refs))
	}
	if refs[0].Parent != g1s1 {
		t.Error("group 1 parent should be g1s1")
	}
	if len(refs[0].Children) != 2 || refs[0].Children[0] != g1c1 || refs[0].Children[1] != g1c2 {
		t.Errorf("group 1 children wrong: %v", refs[0].Children)
	}
	if refs[1].Parent != g2s1 {
		t.Error("group 2 parent should be g2s1")
	}
	if len(refs[1].Children) != 1 || refs[1].Children[0] != g2c1 {
		t.Errorf("group 2 children wrong: %v", refs[1].Children)
	}
}

func TestPropagateImplicitReferences(t *testing.T) {
	var heap fakeHeap
	gh := NewGlobalHandles()
	p, c1, c2 := heap.new(), heap.new(), heap.new()
	hp := gh.Create(p)
	gh.SetObjectGroupId(hp, 7)
	gh.SetReferenceFromGroup(7, gh.Create(c1))
	gh.SetReferenceFromGroup(7, gh.Create(c2))

	reachable := map[Object]bool{p: true}
	v := &recordingVisitor{}
	if !gh.PropagateImplicitReferences(func(o Object) bool { return reachable[o] }, v) {
		t.Fatal("expected progress")
	}
	if !v.contains(c1) || !v.contains(c2) {
		t.Errorf("children not visited: %v", v.visited)
	}
	if len(gh.ImplicitRefGroups()) != 0 {
		t.Error("registry should be empty after propagation")
	}
	if gh.PropagateImplicitReferences(func(Object) bool { return true }, v) {
		t.Error("second pass should find nothing")
	}
}

func TestPropagateImplicitReferences_Transitive(t *testing.T) {
	var heap fakeHeap
	gh := NewGlobalHandles(WithRetainDeferredGroups())
	a, b, c := heap.new(), heap.new(), heap.new()
	ha, hb, hc := gh.Create(a), gh.Create(b), gh.Create(c)
	// b -> c is registered first, so it is only resolvable after a -> b.
	gh.AddImplicitReferences(hb, []Handle{hc})
	gh.AddImplicitReferences(ha, []Handle{hb})

	reachable := map[Object]bool{a: true}
	mark := VisitorFunc(func(objs []Object) {
		for _, o := range objs {
			reachable[o] = true
		}
	})
	rounds := 0
	for gh.PropagateImplicitReferences(func(o Object) bool { return reachable[o] }, mark) {
		rounds++
	}
	if !reachable[b] || !reachable[c] {
		t.Errorf("expected b and c reachable, got %v", reachable)
	}
	if rounds != 2 {
		t.Errorf("expected 2 propagation rounds, got %d", rounds)
	}
}

func TestSetReferenceFromGroup_WithoutMembers(t *testing.T) {
	var heap fakeHeap
	gh := NewGlobalHandles()
	gh.SetReferenceFromGroup(3, gh.Create(heap.new()))
	if n := len(gh.ImplicitRefGroups()); n != 0 {
		t.Errorf("references from an empty group should be dropped, got %d groups", n)
	}
}

func TestSetReferenceFromGroup_ExtendsFoldedGroup(t *testing.T) {
	var heap fakeHeap
	gh := NewGlobalHandles()
	p, c1, c2 := heap.new(), heap.new(), heap.new()
	hp := gh.Create(p)
	gh.SetObjectGroupId(hp, 4)
	gh.SetReferenceFromGroup(4, gh.Create(c1))
	if n := len(gh.ImplicitRefGroups()); n != 1 {
		t.Fatalf("expected 1 implicit reference group, got %d", n)
	}
	gh.SetReferenceFromGroup(4, gh.Create(c2))

	refs := gh.ImplicitRefGroups()
	if len(refs) != 1 || refs[0].Parent != hp || len(refs[0].Children) != 2 {
		t.Fatalf("expected one group of 2 children under the parent, got %+v", refs)
	}

	v := &recordingVisitor{}
	gh.PropagateImplicitReferences(func(o Object) bool { return o == p }, v)
	if !v.contains(c1) || !v.contains(c2) {
		t.Errorf("children not visited: %v", v.visited)
	}

	// Once consumed, a later reference starts a new group for the same id.
	c3 := heap.new()
	gh.SetReferenceFromGroup(4, gh.Create(c3))
	refs = gh.ImplicitRefGroups()
	if len(refs) != 1 || len(refs[0].Children) != 1 || refs[0].Children[0].Object() != c3 {
		t.Errorf("expected a fresh group holding c3, got %+v", refs)
	}
}
