package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dankurka/v8/pkg/churn"
	"github.com/dankurka/v8/pkg/handles"
	"github.com/dankurka/v8/pkg/isolate"
	"github.com/dankurka/v8/pkg/profile"
)

var (
	seed       = flag.Int64("seed", 1, "Random seed for the churn simulation")
	steps      = flag.Int("steps", handles.BlockSize*100, "Mutation steps per phase")
	phasesFlag = flag.String("phases", "", "Comma-separated strong growth tendencies (default: grow, balance, shrink)")
	verbose    = flag.Bool("v", false, "Verbose output (debug logging)")
	debug      = flag.Bool("debug", false, "Enable handle table assertions")
	groups     = flag.Bool("groups", false, "Register an object group per collection and print the retainer profile")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Global handle table churn simulator\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -seed 7                  # Default phases with seed 7\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -phases 0.9,0.1 -debug   # Grow then shrink, with assertions\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -groups -v               # Log collections, print retainer profile\n", os.Args[0])
	}
	flag.Parse()

	phases := churn.DefaultPhases
	if *phasesFlag != "" {
		var err error
		phases, err = parsePhases(*phasesFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []isolate.Option{isolate.WithLogger(logger)}
	if *debug {
		opts = append(opts, isolate.WithDebugChecks())
	}
	var prof *profile.RetainerProfile
	if *groups {
		var err error
		prof, err = profile.New(0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		opts = append(opts, isolate.WithGroupObserver(prof))
	}
	iso := isolate.New(opts...)
	if *groups {
		registerGroups(iso)
	}

	sim := churn.New(iso, churn.Config{Seed: *seed, StepsPerPhase: *steps, Logger: logger})
	if err := sim.Run(phases); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printStats(iso, sim.Stats())
	if prof != nil {
		printProfile(prof)
	}
}

func parsePhases(s string) ([]float64, error) {
	var phases []float64
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid phase %q: %w", part, err)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("phase %v out of range [0,1]", v)
		}
		phases = append(phases, v)
	}
	return phases, nil
}

// label is the RetainedObjectInfo of the demo group.
type label string

func (l label) Dispose() {}

func (l label) IsEquivalent(other handles.RetainedObjectInfo) bool {
	o, ok := other.(label)
	return ok && o == l
}

func (l label) GetHash() int64 { return int64(len(l)) }

func (l label) GetLabel() string { return string(l) }

// registerGroups keeps a two-member weak group alive through a strong root
// and registers it before every full collection.
func registerGroups(iso *isolate.Isolate) {
	root := isolate.NewPersistent(iso, iso.NewObject())
	a := isolate.NewPersistent(iso, iso.NewObject())
	b := isolate.NewPersistent(iso, iso.NewObject())
	iso.Set(root.Object(), 0, a.Object())
	a.MakeWeak(nil, nil)
	b.MakeWeak(nil, nil)
	iso.AddGCPrologueCallback(func(kind handles.CollectionKind) {
		if kind != handles.FullCollection || a.IsEmpty() || b.IsEmpty() {
			return
		}
		iso.AddObjectGroup([]handles.Handle{a.Handle(), b.Handle()}, label("demo wrappers"))
	})
}

func printStats(iso *isolate.Isolate, s churn.Stats) {
	hs := iso.GlobalHandles().Stats()
	fmt.Printf("isolate            %s\n", iso.ID())
	fmt.Printf("strong created     %d (removed %d)\n", s.StrongCreated, s.StrongRemoved)
	fmt.Printf("weak created       %d (finalized %d)\n", s.WeakCreated, s.WeakFinalized)
	fmt.Printf("collections        %d full, %d scavenges\n", s.FullGCs, s.Scavenges)
	fmt.Printf("verifications      %d\n", s.Verifications)
	fmt.Printf("peak handles       %d in %d blocks\n", s.MaxLiveHandles, s.MaxBlocks)
	fmt.Printf("final handles      %d in %d blocks (%d reclaimed)\n", hs.Live, hs.Blocks, hs.ReclaimedBlocks)
}

func printProfile(p *profile.RetainerProfile) {
	fmt.Println("\nretained groups:")
	for _, e := range p.Entries() {
		fmt.Printf("  %-20s groups=%d members=%d\n", e.Label, e.Groups, e.Members)
	}
}
