package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/gckit/gc/collector"
	"github.com/joshuapare/gckit/gc/heap"
	"github.com/joshuapare/gckit/pkg/gc"
)

var (
	runMutators int
	runAllocs   int
	runSize     int
	runRetain   float64
	runRelease  float64
	runCycles   int
	runSlots    int
)

func init() {
	cmd := newRunCmd()
	cmd.Flags().IntVar(&runMutators, "mutators", 4, "Number of concurrent mutators")
	cmd.Flags().IntVar(&runAllocs, "allocs", 10000, "Allocations per mutator")
	cmd.Flags().IntVar(&runSize, "size", 64, "Maximum allocation size in bytes")
	cmd.Flags().Float64Var(&runRetain, "retain", 0.1, "Fraction of allocations kept in a root slot")
	cmd.Flags().Float64Var(&runRelease, "release", 0.1, "Fraction of allocations released explicitly")
	cmd.Flags().IntVar(&runCycles, "cycles", 1, "Forced collections after the workload")
	cmd.Flags().IntVar(&runSlots, "slots", 256, "Root slots per mutator")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an allocation workload",
		Long: `The run command starts concurrent mutators that allocate byte slices of
random size. A fraction is kept in root slots, overwriting older entries, a
fraction is released explicitly, and the rest becomes garbage immediately.

Example:
  gcctl run --mutators 8 --allocs 50000
  gcctl run --size 4096 --retain 0.5 --cycles 3 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context())
		},
	}
	return cmd
}

// batchSize is the number of allocations per Do section. The collector can
// only stop a mutator between sections.
const batchSize = 128

// workload describes a run.
type workload struct {
	Mutators int     `json:"mutators"`
	Allocs   int     `json:"allocs"`
	Size     int     `json:"size"`
	Retain   float64 `json:"retain"`
	Release  float64 `json:"release"`
	Cycles   int     `json:"cycles"`
	Slots    int     `json:"slots"`
}

// runReport is the result of a workload.
type runReport struct {
	Workload workload               `json:"workload"`
	Elapsed  time.Duration          `json:"elapsed"`
	Retained int                    `json:"retained"`
	Released int                    `json:"released"`
	Cycles   []collector.CycleStats `json:"cycles"`
	Totals   collector.Totals       `json:"totals"`
	MemStats heap.MemStats          `json:"mem_stats"`
}

func runRun(ctx context.Context) error {
	w := workload{
		Mutators: runMutators,
		Allocs:   runAllocs,
		Size:     runSize,
		Retain:   runRetain,
		Release:  runRelease,
		Cycles:   runCycles,
		Slots:    runSlots,
	}
	if ctx == nil {
		ctx = context.Background()
	}

	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.Close()

	printVerbose("Running %d mutators x %d allocations\n", w.Mutators, w.Allocs)
	report, err := runWorkload(ctx, h, w)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(report)
	}
	printReport(report)
	return nil
}

// runWorkload runs w against h and collects statistics.
func runWorkload(ctx context.Context, h *heap.Heap, w workload) (runReport, error) {
	if w.Mutators <= 0 || w.Allocs < 0 || w.Size <= 0 || w.Slots <= 0 {
		return runReport{}, fmt.Errorf("invalid workload: %+v", w)
	}

	report := runReport{Workload: w}
	start := time.Now()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		errs     []error
		retained int
		released int
	)
	for i := range w.Mutators {
		m, err := gc.AttachTo(h)
		if err != nil {
			return report, err
		}
		frame, err := m.PushFrame(w.Slots)
		if err != nil {
			return report, err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(i), uint64(w.Allocs)))
			kept, freed := 0, 0
			var err error
			for j := 0; j < w.Allocs && err == nil; j += batchSize {
				n := min(batchSize, w.Allocs-j)
				err = m.Do(func() error {
					for range n {
						s, err := gc.NewMutSlice[byte](m, 1+rng.IntN(w.Size))
						if err != nil {
							return fmt.Errorf("mutator %d: %w", m.ID(), err)
						}
						s.Slice()[0] = byte(j)

						switch p := rng.Float64(); {
						case p < w.Retain:
							frame.Set(kept%frame.Len(), s.Addr())
							kept++
						case p < w.Retain+w.Release:
							if err := s.Release(); err != nil {
								return err
							}
							freed++
						}
					}
					return nil
				})
			}

			mu.Lock()
			defer mu.Unlock()
			retained += min(kept, frame.Len())
			released += freed
			if err != nil {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return report, err
	}

	for range w.Cycles {
		if err := h.Collect(ctx, nil); err != nil {
			return report, err
		}
		report.Cycles = append(report.Cycles, h.Collector().LastCycle())
	}

	report.Elapsed = time.Since(start)
	report.Retained = retained
	report.Released = released
	report.Totals = h.Collector().Totals()
	h.ReadMemStats(&report.MemStats)
	return report, nil
}

func printReport(r runReport) {
	ms := r.MemStats
	printInfo("\n%s\n", colorize(colorBold, "Workload"))
	printInfo("%s\n", strings.Repeat("=", 40))
	printInfo("  Mutators: %d\n", r.Workload.Mutators)
	printInfo("  Allocations: %s\n", formatNumber(ms.Mallocs))
	printInfo("  Requested: %s\n", formatBytes(ms.TotalAlloc))
	printInfo("  Rooted at end: %s\n", formatNumber(r.Retained))
	printInfo("  Released: %s\n", formatNumber(r.Released))
	printInfo("  Elapsed: %s\n\n", r.Elapsed.Round(time.Microsecond))

	printInfo("%s\n", colorize(colorBold, "Heap"))
	printInfo("  Reserved: %s\n", formatBytes(ms.Sys))
	printInfo("  Committed: %s\n", formatBytes(ms.HeapSys))
	printInfo("  In use: %s\n", formatBytes(ms.HeapInUse))
	printInfo("  Live: %s in %s blocks\n", formatBytes(ms.HeapAlloc), formatNumber(ms.Objects))
	printInfo("  Free: %s in %s blocks\n\n", formatBytes(ms.HeapIdle), formatNumber(ms.FreeBlocks))

	printInfo("%s\n", colorize(colorBold, "Collector"))
	printInfo("  Cycles: %s\n", formatNumber(ms.NumGC))
	printInfo("  Total pause: %s (max %s)\n", ms.PauseTotal.Round(time.Microsecond), r.Totals.MaxPause.Round(time.Microsecond))
	printInfo("  Swept: %s blocks, %s\n", formatNumber(r.Totals.Swept), formatBytes(r.Totals.SweptBytes))
	printInfo("  Released: %s blocks, %s\n", formatNumber(r.Totals.Queued), formatBytes(r.Totals.QueuedBytes))
	printInfo("  Dangling roots: %s\n", formatNumber(ms.DanglingRoots))
	if ms.Corruptions > 0 {
		printInfo("  %s\n", colorize(colorRed, fmt.Sprintf("Corruptions: %d", ms.Corruptions)))
	}

	for _, c := range r.Cycles {
		printVerbose("  cycle %d: pause=%s marked=%d swept=%d queued=%d dangling=%d\n",
			c.Cycle, c.Pause.Round(time.Microsecond), c.MarkedBlocks, c.Swept, c.Queued, c.DanglingRoots)
	}
}
