package isolate

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/dankurka/v8/pkg/handles"
)

func TestIsolateID(t *testing.T) {
	a, b := New(), New()
	if a.ID() == uuid.Nil {
		t.Fatal("isolate ID not set")
	}
	if a.ID() == b.ID() {
		t.Error("isolates share an ID")
	}
	if !strings.Contains(a.String(), a.ID().String()) {
		t.Errorf("String() = %q", a.String())
	}
}

func TestLoggerCarriesIsolateID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	iso := New(WithLogger(logger))
	iso.CollectGarbage()

	out := buf.String()
	if !strings.Contains(out, `"isolate":"`+iso.ID().String()+`"`) {
		t.Errorf("log output lacks isolate attribute: %s", out)
	}
	if !strings.Contains(out, "collection finished") {
		t.Errorf("log output lacks collection record: %s", out)
	}
}

func TestEternalHandles(t *testing.T) {
	iso := New(WithDebugChecks())

	// Not on a block boundary.
	const n = 2048 - 1
	indices := make([]int, n)
	eternals := make([]Eternal, n)
	for i := 0; i < n; i++ {
		obj := iso.NewObject()
		iso.Set(obj, i, i)
		// Exercise every creation path.
		switch i % 3 {
		case 0:
			indices[i] = iso.CreateEternal(obj)
		case 1:
			indices[i] = handles.InvalidIndex
			iso.Eternalize(obj, &indices[i])
			before := indices[i]
			iso.Eternalize(iso.NewObject(), &indices[i])
			if indices[i] != before {
				t.Fatalf("Eternalize replaced index %d", before)
			}
		case 2:
			eternals[i] = NewEternal(iso, obj)
		}
	}

	iso.CollectAllAvailableGarbage()

	for i := 0; i < n; i++ {
		var obj handles.Object
		if i%3 == 2 {
			if eternals[i].IsEmpty() {
				t.Fatalf("eternal %d is empty", i)
			}
			obj = eternals[i].Get(iso)
		} else {
			obj = iso.GetEternal(indices[i])
		}
		v, ok := iso.Get(obj, i)
		if !ok || v != i {
			t.Fatalf("eternal %d lost its property: %v, %v", i, v, ok)
		}
	}
	if iso.NumberOfEternalHandles() != n {
		t.Errorf("expected %d eternal handles, got %d", n, iso.NumberOfEternalHandles())
	}

	var empty Eternal
	if !empty.IsEmpty() || empty.Get(iso) != handles.Nil {
		t.Error("zero Eternal should be empty")
	}
	empty.Set(iso, iso.NewObject())
	if empty.IsEmpty() || iso.NumberOfEternalHandles() != n+1 {
		t.Error("Set on an empty Eternal should store it")
	}
}

func TestBlockCollection(t *testing.T) {
	iso := New(WithDebugChecks())
	const numberOfBlocks = 5
	const handleCount = numberOfBlocks * handles.BlockSize
	for round := 0; round < 3; round++ {
		for i := 0; i < handleCount; i++ {
			p := NewPersistent(iso, iso.NewObject())
			p.MakeWeak(nil, func(_ *Isolate, p *Persistent, _ any) { p.Dispose() })
			p.MarkIndependent()
		}
		if iso.BlockCount() != numberOfBlocks {
			t.Errorf("round %d: expected %d blocks, got %d", round, numberOfBlocks, iso.BlockCount())
		}
		iso.CollectAllAvailableGarbage()
		if iso.GlobalHandlesCount() != 0 {
			t.Errorf("round %d: expected 0 handles, got %d", round, iso.GlobalHandlesCount())
		}
		if iso.BlockCount() != 1 {
			t.Errorf("round %d: expected 1 block, got %d", round, iso.BlockCount())
		}
	}
}

func TestGCCallbacksRegisterGroups(t *testing.T) {
	iso := New(WithDebugChecks())
	root := NewPersistent(iso, iso.NewObject())
	a := NewPersistent(iso, iso.NewObject())
	b := NewPersistent(iso, iso.NewObject())
	iso.Set(root.Object(), 0, a.Object())
	finalized := 0
	cb := func(_ *Isolate, p *Persistent, _ any) {
		finalized++
		p.Dispose()
	}
	a.MakeWeak(nil, cb)
	b.MakeWeak(nil, cb)

	iso.AddGCPrologueCallback(func(handles.CollectionKind) {
		if a.IsEmpty() || b.IsEmpty() {
			return
		}
		a.SetObjectGroupId(1)
		b.SetObjectGroupId(1)
	})
	iso.CollectAllAvailableGarbage()
	if finalized != 0 {
		t.Fatalf("group reachable through root was finalized: %d", finalized)
	}

	iso.Set(root.Object(), 0, 0)
	iso.CollectAllAvailableGarbage()
	if finalized != 2 {
		t.Errorf("expected both members finalized, got %d", finalized)
	}
	if iso.GlobalHandlesCount() != 1 {
		t.Errorf("expected only root left, got %d", iso.GlobalHandlesCount())
	}
}
