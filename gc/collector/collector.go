// Package collector implements the stop-the-world conservative mark-sweep
// collector for the managed heap.
//
// A cycle runs on the collector goroutine with every mutator suspended and the
// allocator registry held exclusively:
//
//  1. stop the world, take the registry, flush mutator writes
//  2. gather candidate words from native memory, globals, registers and stacks
//  3. resolve candidates against a per-cycle block index and mark
//  4. trace marked blocks through the words they contain
//  5. run destructors of unmarked allocated blocks
//  6. hand explicitly released blocks, then swept blocks, back to allocators
//  7. release the registry, restart the world, wake waiters
//
// Any word that looks like an address inside the region keeps its block
// alive. False retention is accepted; nothing is ever moved.
package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshuapare/gckit/gc/alloc"
	"github.com/joshuapare/gckit/gc/region"
	"github.com/joshuapare/gckit/gc/thunk"
	"github.com/joshuapare/gckit/gc/world"
	"github.com/joshuapare/gckit/internal/format"
	"github.com/joshuapare/gckit/internal/logger"
)

// World is the set of mutators the collector suspends and scans.
type World interface {
	// StopTheWorld freezes the mutator set and suspends every mutator.
	StopTheWorld()
	// StartTheWorld resumes the mutators suspended by StopTheWorld.
	StartTheWorld()
	// FlushWrites makes every mutator write visible to the collector.
	FlushWrites()
	// ScanThreads visits each suspended mutator's registers and live stack.
	ScanThreads(fn func(id uint64, registers, stack []uintptr))
	// ScanSegments visits each writable global segment.
	ScanSegments(fn func(name string, words []uintptr))
}

// NativeHeap is memory outside the managed heap that may hold managed addresses.
type NativeHeap interface {
	Lock()
	Unlock()
	WalkLocked(fn func(id uint64, words []uintptr) bool)
	Alloc(n int) *world.NativeBlock
	Free(b *world.NativeBlock)
}

// Collector owns the cycle loop and the deallocation queue.
type Collector struct {
	region   *region.Region
	registry *alloc.Registry
	thunks   *thunk.Table
	world    World
	native   NativeHeap
	opts     Options

	queue   deallocQueue
	trigger chan struct{}

	// cycleMu serializes cycles.
	cycleMu sync.Mutex
	rootBuf *world.NativeBlock
	roots   []int
	work    []int

	// mu guards pending, last and totals.
	mu      sync.Mutex
	pending chan struct{}
	last    CycleStats
	totals  Totals

	cycles       atomic.Uint64
	inDestructor atomic.Bool
}

// New returns a collector. Call Run to start timer-triggered cycles.
func New(r *region.Region, reg *alloc.Registry, thunks *thunk.Table, w World, native NativeHeap, opts Options) *Collector {
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RootBufferWords <= 0 {
		opts.RootBufferWords = DefaultRootBufferWords
	}
	return &Collector{
		region:   r,
		registry: reg,
		thunks:   thunks,
		world:    w,
		native:   native,
		opts:     opts,
		trigger:  make(chan struct{}, 1),
		pending:  make(chan struct{}),
		rootBuf:  native.Alloc(opts.RootBufferWords),
	}
}

// Run triggers a cycle every Interval and on every Trigger call until ctx is
// done. A cycle in progress always completes.
func (c *Collector) Run(ctx context.Context) {
	var tick <-chan time.Time
	if c.opts.Interval > 0 {
		t := time.NewTicker(c.opts.Interval)
		defer t.Stop()
		tick = t.C
	}
	logger.Info("collector started", "interval", c.opts.Interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info("collector stopped", "cycles", c.cycles.Load())
			return
		case <-tick:
			c.RunCycle()
		case <-c.trigger:
			c.RunCycle()
		}
	}
}

// Trigger asks the Run loop for a cycle without waiting for it.
func (c *Collector) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// WaitForGC blocks until a cycle that starts after the call has completed.
func (c *Collector) WaitForGC(ctx context.Context) error {
	c.mu.Lock()
	ch := c.pending
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Collect triggers a cycle and waits for it. Requires a running Run loop.
func (c *Collector) Collect(ctx context.Context) error {
	c.mu.Lock()
	ch := c.pending
	c.mu.Unlock()

	c.Trigger()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue hands an explicitly released block to the collector. addr is the
// data address of the block and length the number of bytes the caller owned.
// The caller has already run any destructor.
func (c *Collector) Enqueue(addr uintptr, length int) error {
	dataOff, ok := c.region.Offset(addr)
	if !ok || dataOff < format.HeaderSize {
		return fmt.Errorf("%w: %#x", ErrNotInHeap, addr)
	}
	c.queue.push(dataOff-format.HeaderSize, length)
	return nil
}

// Queued returns the number of released blocks awaiting reclamation.
func (c *Collector) Queued() int { return c.queue.len() }

// InDestructor reports whether the collector is running a destructor.
func (c *Collector) InDestructor() bool { return c.inDestructor.Load() }

// Cycles returns the number of completed cycles.
func (c *Collector) Cycles() uint64 { return c.cycles.Load() }

// LastCycle returns the statistics of the most recent cycle.
func (c *Collector) LastCycle() CycleStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Totals returns statistics accumulated over every cycle.
func (c *Collector) Totals() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals
}

// Close frees the native root buffer. The Run loop must have stopped.
func (c *Collector) Close() {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	c.native.Free(c.rootBuf)
	c.rootBuf = nil
}

// RunCycle performs one complete cycle on the calling goroutine and returns its
// statistics. The calling goroutine must not be inside a mutator's Do.
func (c *Collector) RunCycle() CycleStats {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	c.mu.Lock()
	done := c.pending
	c.pending = make(chan struct{})
	c.mu.Unlock()

	st := c.cycle()

	c.mu.Lock()
	c.last = st
	c.totals.add(st)
	c.mu.Unlock()

	close(done)
	return st
}
