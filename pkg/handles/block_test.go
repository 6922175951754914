package handles

import (
	"errors"
	"testing"
)

func TestBlockCollection(t *testing.T) {
	gh := NewGlobalHandles(WithDebugChecks())
	if gh.BlockCount() != 0 || gh.GlobalHandlesCount() != 0 {
		t.Fatalf("new table: %d blocks, %d handles", gh.BlockCount(), gh.GlobalHandlesCount())
	}
	const numberOfBlocks = 5
	for round := 0; round < 3; round++ {
		var hs []Handle
		for i := 0; i < numberOfBlocks*BlockSize; i++ {
			hs = append(hs, gh.Create(1))
		}
		if gh.BlockCount() != numberOfBlocks {
			t.Errorf("round %d: expected %d blocks, got %d", round, numberOfBlocks, gh.BlockCount())
		}
		for _, h := range hs {
			gh.Destroy(h)
		}
		if gh.BlockCount() != numberOfBlocks {
			t.Errorf("round %d: Destroy alone must not shrink storage, got %d blocks", round, gh.BlockCount())
		}
		collect(gh, nil)
		if gh.GlobalHandlesCount() != 0 {
			t.Errorf("round %d: expected 0 handles, got %d", round, gh.GlobalHandlesCount())
		}
		if gh.BlockCount() != 1 {
			t.Errorf("round %d: expected 1 spare block, got %d", round, gh.BlockCount())
		}
	}
}

func TestBlockCollection_Sizes(t *testing.T) {
	for _, n := range []int{0, 1, BlockSize - 1, BlockSize, BlockSize + 1, 1000} {
		gh := NewGlobalHandles()
		hs := make([]Handle, n)
		for i := range hs {
			hs[i] = gh.Create(Object(i + 1))
		}
		for _, h := range hs {
			gh.Destroy(h)
		}
		collect(gh, nil)
		if gh.GlobalHandlesCount() != 0 {
			t.Errorf("n=%d: expected 0 handles, got %d", n, gh.GlobalHandlesCount())
		}
		if gh.BlockCount() > 1 {
			t.Errorf("n=%d: expected at most 1 block, got %d", n, gh.BlockCount())
		}
		if err := gh.VerifyBlockInvariants(); err != nil {
			t.Errorf("n=%d: %v", n, err)
		}
	}
}

func TestReclaimBlocks_KeepsLiveBlocks(t *testing.T) {
	gh := NewGlobalHandles()
	hs := make([]Handle, 3*BlockSize)
	for i := range hs {
		hs[i] = gh.Create(Object(i + 1))
	}
	// Empty the first and second block, keep one handle in the third.
	for _, h := range hs[:2*BlockSize] {
		gh.Destroy(h)
	}
	for _, h := range hs[2*BlockSize+1:] {
		gh.Destroy(h)
	}
	if removed := gh.ReclaimBlocks(); removed != 1 {
		t.Errorf("expected 1 block removed, got %d", removed)
	}
	if gh.BlockCount() != 2 {
		t.Errorf("expected 2 blocks, got %d", gh.BlockCount())
	}
	if got := hs[2*BlockSize].Object(); got != Object(2*BlockSize+1) {
		t.Errorf("surviving handle lost its object: %d", got)
	}
	if err := gh.VerifyBlockInvariants(); err != nil {
		t.Error(err)
	}
	// New handles fill the spare block before growing.
	for i := 0; i < BlockSize; i++ {
		gh.Create(1)
	}
	if gh.BlockCount() != 2 {
		t.Errorf("expected spare block reused, got %d blocks", gh.BlockCount())
	}
}

func TestVerifyBlockInvariants_DetectsCorruption(t *testing.T) {
	gh := NewGlobalHandles()
	h := gh.Create(1)
	gh.Create(2)
	if err := gh.VerifyBlockInvariants(); err != nil {
		t.Fatalf("healthy table: %v", err)
	}

	h.node.block.used++
	err := gh.VerifyBlockInvariants()
	if !errors.Is(err, ErrBlockInvariant) {
		t.Errorf("expected ErrBlockInvariant for bad used count, got %v", err)
	}
	h.node.block.used--

	gh.count++
	if err := gh.VerifyBlockInvariants(); !errors.Is(err, ErrBlockInvariant) {
		t.Errorf("expected ErrBlockInvariant for bad live count, got %v", err)
	}
	gh.count--

	gh.alloc.freeCount--
	if err := gh.VerifyBlockInvariants(); !errors.Is(err, ErrBlockInvariant) {
		t.Errorf("expected ErrBlockInvariant for bad free count, got %v", err)
	}
}

func TestStats(t *testing.T) {
	gh := NewGlobalHandles()
	gh.Create(1)
	weak := gh.Create(2)
	gh.MakeWeakIndependent(weak, nil, nil, true)
	gh.Destroy(gh.Create(3))

	s := gh.Stats()
	if s.Blocks != 1 || s.Capacity != BlockSize {
		t.Errorf("blocks=%d capacity=%d", s.Blocks, s.Capacity)
	}
	if s.Live != 2 || s.Normal != 1 || s.Weak != 1 || s.Independent != 1 {
		t.Errorf("unexpected counts: %+v", s)
	}
	if s.Free != BlockSize-2 {
		t.Errorf("expected %d free, got %d", BlockSize-2, s.Free)
	}
}

func BenchmarkCreateDestroy(b *testing.B) {
	gh := NewGlobalHandles()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		gh.Destroy(gh.Create(1))
	}
}

func BenchmarkCreateDestroy_Churn(b *testing.B) {
	gh := NewGlobalHandles()
	hs := make([]Handle, 4*BlockSize)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range hs {
			hs[j] = gh.Create(Object(j + 1))
		}
		for _, h := range hs {
			gh.Destroy(h)
		}
		gh.ReclaimBlocks()
	}
}

func BenchmarkIterateStrongRoots(b *testing.B) {
	gh := NewGlobalHandles()
	for i := 0; i < 16*BlockSize; i++ {
		gh.Create(Object(i + 1))
	}
	count := 0
	v := VisitorFunc(func(objs []Object) { count += len(objs) })
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		gh.IterateStrongRoots(v)
	}
	if count == 0 {
		b.Fatal("no roots visited")
	}
}
