// Package churn drives an isolate's handle table through randomized
// create/destroy/weak/collect sequences and checks that the table's live
// count matches an independent model after every step.
package churn

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/dankurka/v8/pkg/handles"
	"github.com/dankurka/v8/pkg/isolate"
)

// ErrSizeMismatch reports a handle count that differs from the model.
var ErrSizeMismatch = errors.New("churn: handle count mismatch")

// offsetKey is the property under which a weak object stores its offset.
const offsetKey = 7

// Config controls a Simulator.
type Config struct {
	Seed          int64
	StepsPerPhase int     // default handles.BlockSize * 100
	WeakGrowth    float64 // default 0.05
	VerifyRate    float64 // default 0.05
	ScavengeRate  float64 // default 0.0001
	FullGCRate    float64 // default 0.00003
	Logger        *slog.Logger
}

func (c *Config) setDefaults() {
	if c.StepsPerPhase == 0 {
		c.StepsPerPhase = handles.BlockSize * 100
	}
	if c.WeakGrowth == 0 {
		c.WeakGrowth = 0.05
	}
	if c.VerifyRate == 0 {
		c.VerifyRate = 0.05
	}
	if c.ScavengeRate == 0 {
		c.ScavengeRate = 0.0001
	}
	if c.FullGCRate == 0 {
		c.FullGCRate = 0.00003
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// DefaultPhases grows the table, churns it at balance and shrinks it.
var DefaultPhases = []float64{0.65, 0.55, 0.50, 0.50, 0.50, 0.45, 0.35}

// Stats counts what a Simulator has done.
type Stats struct {
	StrongCreated  int
	StrongRemoved  int
	WeakCreated    int
	WeakFinalized  int
	Scavenges      int
	FullGCs        int
	Verifications  int
	MaxLiveHandles int
	MaxBlocks      int
}

// Simulator holds the model: strong handles by position and weak handles by
// the offset stored in their object.
type Simulator struct {
	iso    *isolate.Isolate
	cfg    Config
	base   int
	rng    *rand.Rand
	strong []handles.Handle
	weak   map[int32]*isolate.Persistent
	offset int32
	stats  Stats
	err    error
}

// New creates a simulator over iso. Handles that already exist are assumed
// to outlive the simulation.
func New(iso *isolate.Isolate, cfg Config) *Simulator {
	cfg.setDefaults()
	return &Simulator{
		iso:  iso,
		cfg:  cfg,
		base: iso.GlobalHandlesCount(),
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		weak: make(map[int32]*isolate.Persistent),
	}
}

// Stats returns the simulator's counters.
func (s *Simulator) Stats() Stats {
	return s.stats
}

// Mutate runs one phase. Each step adds a strong handle with probability
// strongGrowth and otherwise destroys a random one, adds an independent weak
// handle with probability WeakGrowth, and occasionally verifies the table or
// collects.
func (s *Simulator) Mutate(strongGrowth float64) error {
	gh := s.iso.GlobalHandles()
	for i := 0; i < s.cfg.StepsPerPhase; i++ {
		if s.rng.Float64() < strongGrowth {
			s.addStrong()
		} else if len(s.strong) > 0 {
			s.removeStrong(s.rng.Intn(len(s.strong)))
		}
		if s.rng.Float64() < s.cfg.WeakGrowth {
			s.addWeak()
		}
		if s.rng.Float64() < s.cfg.VerifyRate {
			s.stats.Verifications++
			if err := gh.VerifyBlockInvariants(); err != nil {
				return fmt.Errorf("churn: step %d: %w", i, err)
			}
		}
		if s.rng.Float64() < s.cfg.ScavengeRate {
			s.stats.Scavenges++
			s.iso.PerformScavenge()
		} else if s.rng.Float64() < s.cfg.FullGCRate {
			s.stats.FullGCs++
			s.iso.CollectAllAvailableGarbage()
		}
		if err := s.CheckSizes(); err != nil {
			return fmt.Errorf("churn: step %d: %w", i, err)
		}
	}
	s.cfg.Logger.Debug("churn phase finished",
		slog.Float64("strong_growth", strongGrowth),
		slog.Int("strong", len(s.strong)),
		slog.Int("weak", len(s.weak)),
		slog.Int("blocks", gh.BlockCount()))
	return nil
}

// Run runs one Mutate phase per strong growth tendency, then RemoveAll.
func (s *Simulator) Run(phases []float64) error {
	for i, growth := range phases {
		if err := s.Mutate(growth); err != nil {
			return fmt.Errorf("phase %d: %w", i, err)
		}
	}
	return s.RemoveAll()
}

// RemoveAll destroys every strong handle and collects until every weak
// handle is finalized.
func (s *Simulator) RemoveAll() error {
	for len(s.strong) > 0 {
		s.removeStrong(len(s.strong) - 1)
	}
	s.iso.PerformScavenge()
	s.iso.CollectAllAvailableGarbage()
	s.stats.Scavenges++
	s.stats.FullGCs++
	return s.CheckSizes()
}

// CheckSizes compares the table's live count with the model and returns the
// first error raised inside a weak callback.
func (s *Simulator) CheckSizes() error {
	if s.err != nil {
		return s.err
	}
	want := s.base + len(s.strong) + len(s.weak)
	got := s.iso.GlobalHandlesCount()
	if got != want {
		return fmt.Errorf("%w: table has %d, model has %d strong and %d weak over %d",
			ErrSizeMismatch, got, len(s.strong), len(s.weak), s.base)
	}
	if got > s.stats.MaxLiveHandles {
		s.stats.MaxLiveHandles = got
	}
	if b := s.iso.BlockCount(); b > s.stats.MaxBlocks {
		s.stats.MaxBlocks = b
	}
	return nil
}

func (s *Simulator) addStrong() {
	s.strong = append(s.strong, s.iso.CreateHandle(s.iso.Undefined()))
	s.stats.StrongCreated++
}

func (s *Simulator) removeStrong(i int) {
	s.iso.DestroyHandle(s.strong[i])
	s.strong = append(s.strong[:i], s.strong[i+1:]...)
	s.stats.StrongRemoved++
}

func (s *Simulator) addWeak() {
	s.offset++
	obj := s.iso.NewObject()
	s.iso.Set(obj, offsetKey, s.offset)
	p := isolate.NewPersistent(s.iso, obj)
	p.MakeWeak(s, weakCallback)
	p.MarkIndependent()
	s.weak[s.offset] = p
	s.stats.WeakCreated++
}

func weakCallback(iso *isolate.Isolate, p *isolate.Persistent, data any) {
	s := data.(*Simulator)
	v, _ := iso.Get(p.Object(), offsetKey)
	offset, ok := v.(int32)
	if !ok {
		s.fail(fmt.Errorf("churn: weak object %d has no offset", p.Object()))
		return
	}
	stored, ok := s.weak[offset]
	if !ok {
		s.fail(fmt.Errorf("churn: weak offset %d finalized twice", offset))
		return
	}
	if stored != p {
		s.fail(fmt.Errorf("churn: weak offset %d finalized through the wrong handle", offset))
		return
	}
	delete(s.weak, offset)
	p.Dispose()
	s.stats.WeakFinalized++
}

func (s *Simulator) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}
