// Package heap ties the region, the allocators, the world and the collector
// into one garbage collected heap.
//
// Mutators allocate through Heap.Allocate while running inside their Do
// section. Each mutator allocates from its own allocator, created the first
// time it asks. When the region is exhausted the mutator parks, a cycle is
// forced, and the allocation is retried exactly once.
package heap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/gckit/gc/alloc"
	"github.com/joshuapare/gckit/gc/block"
	"github.com/joshuapare/gckit/gc/collector"
	"github.com/joshuapare/gckit/gc/region"
	"github.com/joshuapare/gckit/gc/thunk"
	"github.com/joshuapare/gckit/gc/world"
	"github.com/joshuapare/gckit/internal/format"
	"github.com/joshuapare/gckit/internal/logger"
)

// Heap is a garbage collected heap with its own collector goroutine.
type Heap struct {
	region    *region.Region
	registry  *alloc.Registry
	thunks    *thunk.Table
	world     *world.World
	collector *collector.Collector
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool

	mallocs atomic.Uint64
	frees   atomic.Uint64
	total   atomic.Uint64
}

// New reserves the region and starts the collector.
func New(opts Options) (*Heap, error) {
	r, err := region.New(opts.Region)
	if err != nil {
		return nil, fmt.Errorf("heap: %w", err)
	}
	if opts.StackWords <= 0 {
		opts.StackWords = world.DefaultStackWords
	}

	w := world.New()
	h := &Heap{
		region:   r,
		registry: alloc.NewRegistry(r, opts.Alloc),
		thunks:   thunk.NewTable(),
		world:    w,
		opts:     opts,
		done:     make(chan struct{}),
	}
	h.collector = collector.New(r, h.registry, h.thunks, w, w.Native(), opts.Collector)
	h.ctx, h.cancel = context.WithCancel(context.Background())

	go func() {
		defer close(h.done)
		h.collector.Run(h.ctx)
	}()

	logger.Info("heap created",
		"reserved", r.Reserved(),
		"committed", r.Committed(),
		"interval", opts.Collector.Interval,
	)
	return h, nil
}

// Attach registers a new mutator. It must not be called from inside a
// mutator's Do.
func (h *Heap) Attach() (*world.Mutator, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	return h.world.Attach(h.opts.StackWords), nil
}

// Detach removes m from the world and parks its allocator for reuse.
func (h *Heap) Detach(m *world.Mutator) error {
	if err := h.world.Detach(m); err != nil {
		return err
	}
	h.registry.Release(m.ID())
	return nil
}

// Allocate returns the address of a zeroed block that fits l. m must be
// running. The address is recorded in m's registers, so the block survives
// until m allocates NumRegisters more times; root it to keep it longer.
func (h *Heap) Allocate(m *world.Mutator, l format.Layout) (uintptr, error) {
	return h.allocate(m, l, format.NoDestructor)
}

// AllocateWithDestructor is Allocate with a destructor registered in Thunks.
// The destructor runs when the collector finds the block unreachable.
func (h *Heap) AllocateWithDestructor(m *world.Mutator, l format.Layout, destructor uint64) (uintptr, error) {
	if _, ok := h.thunks.Lookup(destructor); !ok {
		return 0, fmt.Errorf("heap: unknown destructor %d", destructor)
	}
	return h.allocate(m, l, destructor)
}

func (h *Heap) allocate(m *world.Mutator, l format.Layout, destructor uint64) (uintptr, error) {
	if h.closed.Load() {
		return 0, ErrClosed
	}
	if h.collector.InDestructor() {
		return 0, ErrAllocInDestructor
	}
	if !m.Running() {
		return 0, ErrNotRunning
	}

	addr, err := h.tryAllocate(m, l, destructor)
	if errors.Is(err, alloc.ErrOutOfMemory) {
		logger.Warn("heap exhausted, forcing a collection", "mutator", m.ID(), "layout", l.String())
		if werr := m.Blocking(func() error { return h.collector.Collect(h.ctx) }); werr != nil {
			return 0, fmt.Errorf("heap: waiting for collection: %w", werr)
		}
		addr, err = h.tryAllocate(m, l, destructor)
	}
	if err != nil {
		return 0, err
	}

	m.Record(addr)
	h.mallocs.Add(1)
	h.total.Add(uint64(l.Size))
	return addr, nil
}

func (h *Heap) tryAllocate(m *world.Mutator, l format.Layout, destructor uint64) (uintptr, error) {
	h.registry.RLock()
	defer h.registry.RUnlock()

	a, err := h.registry.Get(m.ID())
	if err != nil {
		return 0, err
	}
	hdr, err := a.RawAllocate(l, destructor)
	if err != nil {
		return 0, err
	}
	return h.region.Addr(hdr.DataOffset()), nil
}

// Deallocate hands a block back to the collector. The destructor field is
// cleared at once, so the block is never destructed by a sweep; callers that
// own the value run the destructor themselves first (see TakeDestructor). The
// block is reclaimed in the next cycle whether or not something still refers
// to it. The caller must own the block exclusively.
func (h *Heap) Deallocate(addr uintptr, l format.Layout) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("%w: %w", alloc.ErrBadAlignment, err)
	}
	hdr, err := h.headerOf(addr)
	if err != nil {
		return err
	}
	hdr.SetDestructor(format.NoDestructor)
	if err := h.collector.Enqueue(addr, l.Size); err != nil {
		return err
	}
	h.frees.Add(1)
	return nil
}

// TakeDestructor clears the destructor id of the block at addr and reports
// whether one was set. An owner releasing a value runs its destructor only
// when this returns true, so a value a sweep has already destructed is never
// destructed again.
func (h *Heap) TakeDestructor(addr uintptr) (bool, error) {
	hdr, err := h.headerOf(addr)
	if err != nil {
		return false, err
	}
	if hdr.Destructor() == format.NoDestructor {
		return false, nil
	}
	hdr.SetDestructor(format.NoDestructor)
	return true, nil
}

// headerOf returns the header of the allocated block whose data starts at addr.
func (h *Heap) headerOf(addr uintptr) (block.Header, error) {
	off, ok := h.region.Offset(addr)
	if !ok || off < format.HeaderSize {
		return block.Header{}, fmt.Errorf("%w: %#x", collector.ErrNotInHeap, addr)
	}
	hdr, err := block.At(h.region.Bytes(), off-format.HeaderSize)
	if err != nil {
		return block.Header{}, fmt.Errorf("%w: %#x: %w", ErrNotBlock, addr, err)
	}
	if !hdr.IsAllocated() {
		return block.Header{}, fmt.Errorf("%w: %#x is free", ErrNotBlock, addr)
	}
	return hdr, nil
}

// WaitForGC blocks until a cycle that starts after the call has completed.
// A running m is parked while it waits; m may be nil.
func (h *Heap) WaitForGC(ctx context.Context, m *world.Mutator) error {
	return h.blocking(m, func() error { return h.collector.WaitForGC(ctx) })
}

// Collect forces a cycle and waits for it. A running m is parked while it
// waits; m may be nil.
func (h *Heap) Collect(ctx context.Context, m *world.Mutator) error {
	return h.blocking(m, func() error { return h.collector.Collect(ctx) })
}

func (h *Heap) blocking(m *world.Mutator, fn func() error) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if m == nil {
		return fn()
	}
	return m.Blocking(fn)
}

// Contains reports whether addr points into the managed heap.
func (h *Heap) Contains(addr uintptr) bool { return h.region.Contains(addr) }

// Pointer converts a heap address to a pointer. addr must be in the heap.
func (h *Heap) Pointer(addr uintptr) unsafe.Pointer {
	off, ok := h.region.Offset(addr)
	if !ok {
		panic(fmt.Sprintf("heap: address %#x not in heap", addr))
	}
	return h.region.Pointer(off)
}

// Region returns the memory region backing the heap.
func (h *Heap) Region() *region.Region { return h.region }

// World returns the heap's mutator world.
func (h *Heap) World() *world.World { return h.world }

// Thunks returns the destructor table.
func (h *Heap) Thunks() *thunk.Table { return h.thunks }

// Collector returns the heap's collector.
func (h *Heap) Collector() *collector.Collector { return h.collector }

// Closed reports whether Close has been called.
func (h *Heap) Closed() bool { return h.closed.Load() }

// Close stops the collector and releases the region. Every mutator must have
// stopped using the heap; addresses obtained from it become invalid.
func (h *Heap) Close() error {
	var err error
	h.once.Do(func() {
		h.closed.Store(true)
		h.cancel()
		<-h.done
		h.collector.Close()
		err = h.region.Close()
		logger.Info("heap closed", "cycles", h.collector.Cycles())
	})
	return err
}
