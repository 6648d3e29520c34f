package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/joshuapare/gckit/gc/heap"
	"github.com/joshuapare/gckit/gc/world"
	"github.com/joshuapare/gckit/pkg/gc"
)

func init() {
	rootCmd.AddCommand(newScenarioCmd())
}

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario [a|b|c|all]",
		Short: "Run acceptance scenarios",
		Long: `The scenario command runs the heap acceptance scenarios against fresh heaps:

  a  500 released values are reused without growing the region
  b  a destructor that stashes its own handle does not keep the value alive
  c  two mutators allocate 1000 values each concurrently

Example:
  gcctl scenario all
  gcctl scenario b --json`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"a", "b", "c", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "all"
			if len(args) == 1 {
				name = args[0]
			}
			return runScenarios(cmd.Context(), name)
		},
	}
	return cmd
}

type scenario struct {
	Name        string
	Description string
	Run         func(ctx context.Context, h *heap.Heap) (string, error)
}

var scenarios = []scenario{
	{"a", "released memory is reused", scenarioReuse},
	{"b", "destructors cannot resurrect", scenarioResurrection},
	{"c", "concurrent mutators", scenarioConcurrent},
}

type scenarioResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Detail   string        `json:"detail"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

func runScenarios(ctx context.Context, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var results []scenarioResult
	for _, s := range scenarios {
		if name != "all" && name != s.Name {
			continue
		}
		results = append(results, runScenario(ctx, s))
	}
	if len(results) == 0 {
		return fmt.Errorf("unknown scenario %q", name)
	}

	failed := 0
	for _, r := range results {
		if !r.Passed {
			failed++
		}
	}

	if jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			status := colorize(colorGreen, "PASS")
			if !r.Passed {
				status = colorize(colorRed, "FAIL")
			}
			printInfo("%s  scenario %s: %s (%s)\n", status, r.Name, r.Detail, r.Duration.Round(time.Microsecond))
			if r.Error != "" {
				printInfo("      %s\n", r.Error)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
	}
	return nil
}

func runScenario(ctx context.Context, s scenario) (res scenarioResult) {
	res = scenarioResult{Name: s.Name, Detail: s.Description}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	opts, err := cfg.HeapOptions()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	opts.Collector.Interval = -1
	opts.Collector.VerifyHeap = true

	h, err := heap.New(opts)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer h.Close()

	printVerbose("running scenario %s\n", s.Name)
	detail, err := s.Run(ctx, h)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Passed = true
	res.Detail = detail
	return res
}

func scenarioReuse(ctx context.Context, h *heap.Heap) (string, error) {
	m, err := gc.AttachTo(h)
	if err != nil {
		return "", err
	}
	defer m.Detach()

	handles := make([]gc.GcMut[[8]int32], 0, 500)
	err = m.Do(func() error {
		for i := range 500 {
			g, err := gc.NewMut(m, [8]int32{int32(i)})
			if err != nil {
				return err
			}
			handles = append(handles, g)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	for _, g := range handles {
		if err := g.Release(); err != nil {
			return "", err
		}
	}
	if err := h.Collect(ctx, nil); err != nil {
		return "", err
	}

	before := h.Region().Len()
	err = m.Do(func() error {
		_, err := gc.NewMut(m, [8]int32{})
		return err
	})
	if err != nil {
		return "", err
	}
	if after := h.Region().Len(); after != before {
		return "", fmt.Errorf("region grew from %d to %d bytes", before, after)
	}
	return fmt.Sprintf("%d blocks released, region stayed at %s",
		h.Collector().LastCycle().Queued, formatBytes(before)), nil
}

type phoenix struct {
	Payload int64
}

var (
	phoenixDeaths atomic.Int64
	phoenixNest   atomic.Pointer[world.Segment]
)

func (p *phoenix) Destroy() {
	phoenixDeaths.Add(1)
	if nest := phoenixNest.Load(); nest != nil {
		nest.Set(0, uintptr(unsafe.Pointer(p)))
	}
}

func scenarioResurrection(ctx context.Context, h *heap.Heap) (string, error) {
	nest := h.World().Globals().NewSegment("phoenix", 1)
	defer h.World().Globals().Remove(nest)
	phoenixNest.Store(nest)
	defer phoenixNest.Store(nil)
	deaths := phoenixDeaths.Load()

	m, err := gc.AttachTo(h)
	if err != nil {
		return "", err
	}
	defer m.Detach()

	err = m.Do(func() error {
		_, err := gc.New(m, phoenix{Payload: 42})
		return err
	})
	if err != nil {
		return "", err
	}
	m.ClearRegisters()

	if err := h.Collect(ctx, nil); err != nil {
		return "", err
	}
	if got := phoenixDeaths.Load() - deaths; got != 1 {
		return "", fmt.Errorf("destructor ran %d times, want 1", got)
	}
	if nest.Get(0) == 0 {
		return "", errors.New("destructor did not stash its handle")
	}

	if err := h.Collect(ctx, nil); err != nil {
		return "", err
	}
	last := h.Collector().LastCycle()
	if last.DanglingRoots != 1 {
		return "", fmt.Errorf("stashed handle reported %d times as dangling, want 1", last.DanglingRoots)
	}
	if got := phoenixDeaths.Load() - deaths; got != 1 {
		return "", fmt.Errorf("destructor ran %d times after resurrection, want 1", got)
	}
	return "value reclaimed once, stashed handle reported dangling", nil
}

func scenarioConcurrent(ctx context.Context, h *heap.Heap) (string, error) {
	const perMutator = 1000

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		m, err := gc.AttachTo(h)
		if err != nil {
			return "", err
		}
		defer m.Detach()

		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.Do(func() error {
				for j := range perMutator {
					g, err := gc.NewMut(m, [2]int64{int64(i), int64(j)})
					if err != nil {
						return err
					}
					if v := *g.Get(); v != [2]int64{int64(i), int64(j)} {
						return fmt.Errorf("mutator %d value %d overwritten: %v", i, j, v)
					}
				}
				return nil
			})
		}()
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return "", err
	}
	if err := h.Collect(ctx, nil); err != nil {
		return "", err
	}

	var ms heap.MemStats
	h.ReadMemStats(&ms)
	if ms.Corruptions > 0 {
		return "", fmt.Errorf("%d heap corruptions", ms.Corruptions)
	}
	return fmt.Sprintf("%s allocations, %s swept", formatNumber(ms.Mallocs), formatNumber(ms.Swept)), nil
}
