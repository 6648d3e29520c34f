// Package alloc implements the per-mutator block allocator and the registry
// that maps mutators to their allocators.
//
// Each Allocator owns a singly linked free list threaded through block
// headers. Allocation is first fit with splitting: the first free block that
// can hold the request is trimmed with ShrinkToFit and unlinked. When nothing
// fits, the allocator grows the shared region by enough whole pages and links
// the fresh block at the end of its list. Freed blocks come back only through
// the collector, which pushes them onto the list head.
package alloc

import (
	"errors"
	"fmt"

	"github.com/joshuapare/gckit/gc/block"
	"github.com/joshuapare/gckit/gc/region"
	"github.com/joshuapare/gckit/internal/format"
	"github.com/joshuapare/gckit/internal/logger"
)

// DefaultInitialPages is the number of pages a new allocator starts with.
const DefaultInitialPages = 1

// Options configures an Allocator.
type Options struct {
	// InitialPages is the number of pages grown when the allocator is created.
	// Default: 1.
	InitialPages int
}

// DefaultOptions returns the default allocator configuration.
func DefaultOptions() Options {
	return Options{InitialPages: DefaultInitialPages}
}

// Stats holds allocator counters.
type Stats struct {
	AllocCalls     int   // Total RawAllocate() calls
	AllocFastPath  int   // Allocations served from the existing free list
	AllocSlowPath  int   // Allocations that required growing the region
	AllocFailed    int   // Allocations that returned an error
	GrowCalls      int   // Number of region growths
	GrowBytes      int64 // Total bytes added via growth
	SplitCount     int   // Headers created by ShrinkToFit
	BytesAllocated int64 // Data bytes handed out
	ReclaimCalls   int   // Blocks returned by the collector
	BytesReclaimed int64 // Data bytes returned by the collector
}

// Allocator is a first-fit free list allocator over the shared region. It is
// not safe for concurrent use: one mutator allocates from it, and the
// collector reclaims into it only while that mutator is suspended.
type Allocator struct {
	region    *region.Region
	head      int
	freeBytes int
	spans     []region.Span
	stats     Stats
}

// TryNew creates an allocator and seeds its free list with fresh pages.
func TryNew(r *region.Region, opts Options) (*Allocator, error) {
	if opts.InitialPages <= 0 {
		opts.InitialPages = DefaultInitialPages
	}
	a := &Allocator{region: r, head: block.Nil}
	if _, err := a.expand(opts.InitialPages, block.Nil); err != nil {
		return nil, err
	}
	return a, nil
}

// FreeBytes returns the data bytes currently on the free list.
func (a *Allocator) FreeBytes() int { return a.freeBytes }

// Head returns the offset of the first free block, or block.Nil.
func (a *Allocator) Head() int { return a.head }

// Spans returns the region spans this allocator has grown.
func (a *Allocator) Spans() []region.Span { return a.spans }

// Stats returns a copy of the allocator counters.
func (a *Allocator) Stats() Stats { return a.stats }

// RawAllocate returns a zeroed block of at least l.Size bytes whose data is
// aligned to at least l.Align. The block header records destructor.
func (a *Allocator) RawAllocate(l format.Layout, destructor uint64) (block.Header, error) {
	a.stats.AllocCalls++

	if l.Size == 0 {
		a.stats.AllocFailed++
		return block.Header{}, ErrZeroSized
	}
	if err := l.Validate(); err != nil {
		a.stats.AllocFailed++
		return block.Header{}, fmt.Errorf("%w: %w", ErrBadAlignment, err)
	}

	h, err := a.findBlock(l)
	if err != nil {
		a.stats.AllocFailed++
		return block.Header{}, err
	}

	h.SetDestructor(destructor)
	clear(h.Data())
	a.stats.BytesAllocated += int64(h.Size())

	if logger.AllocTrace() {
		logger.Debug("alloc", "layout", l, "off", h.Off, "size", h.Size(), "free", a.freeBytes)
	}
	return h, nil
}

// findBlock walks the free list for the first block that fits l, growing the
// region when the list is exhausted or known to be too small.
func (a *Allocator) findBlock(l format.Layout) (block.Header, error) {
	buf := a.region.Bytes()
	tryFit := a.freeBytes >= l.Padded()

	prev := block.Nil
	for off := a.head; off != block.Nil; {
		cur, err := block.At(buf, off)
		if err != nil {
			logger.Error("free list corrupted", "off", off, "error", err)
			return block.Header{}, err
		}
		if cur.IsAllocated() {
			logger.Error("allocated block on free list", "off", off)
			return block.Header{}, fmt.Errorf("%w: %w at %d", block.ErrHeapCorrupted, ErrNotFree, off)
		}
		if tryFit {
			got, consumed, err := cur.ShrinkToFit(l)
			if err == nil {
				a.stats.AllocFastPath++
				return a.take(buf, prev, cur, got, consumed)
			}
			if !block.IsFitFailure(err) {
				return block.Header{}, err
			}
		}
		prev, off = off, cur.NextFree()
	}

	a.stats.AllocSlowPath++
	fresh, err := a.expand(pagesFor(l), prev)
	if err != nil {
		return block.Header{}, err
	}
	buf = a.region.Bytes()
	got, consumed, err := fresh.ShrinkToFit(l)
	if err != nil {
		return block.Header{}, fmt.Errorf("%w: %v in %v: %w", ErrGrowFail, l, fresh, err)
	}
	return a.take(buf, prev, fresh, got, consumed)
}

// take unlinks got from the free list. prev is cur's predecessor; when
// ShrinkToFit carved got out of cur, cur becomes the predecessor.
func (a *Allocator) take(buf []byte, prev int, cur, got block.Header, consumed int) (block.Header, error) {
	if got.Off != cur.Off {
		prev = cur.Off
	}
	if consumed > 0 {
		a.stats.SplitCount += consumed / format.HeaderSize
	}

	next := got.NextFree()
	if prev == block.Nil {
		a.head = next
	} else {
		p, err := block.At(buf, prev)
		if err != nil {
			return block.Header{}, err
		}
		p.SetNextFree(next)
	}

	if err := got.MarkAllocated(); err != nil {
		logger.Error("heap corruption detected", "block", got.String(), "error", err)
		return block.Header{}, err
	}
	a.freeBytes -= consumed + got.Size()
	return got, nil
}

// expand grows the region by n pages, turns the span into one free block and
// links it after tail (or as the head when tail is block.Nil).
func (a *Allocator) expand(n int, tail int) (block.Header, error) {
	span, err := a.region.GrowBy(n)
	if err != nil {
		if errors.Is(err, region.ErrOutOfMemory) {
			logger.Warn("heap exhausted", "pages", n, "reserved", a.region.Reserved())
		}
		return block.Header{}, err
	}

	buf := a.region.Bytes()
	h, err := block.Init(buf, span.Off, span.Len-format.HeaderSize, block.Nil)
	if err != nil {
		return block.Header{}, err
	}

	if tail == block.Nil {
		a.head = span.Off
	} else {
		t, err := block.At(buf, tail)
		if err != nil {
			return block.Header{}, err
		}
		t.SetNextFree(span.Off)
	}

	a.freeBytes += h.Size()
	a.spans = append(a.spans, span)
	a.stats.GrowCalls++
	a.stats.GrowBytes += int64(span.Len)
	logger.Debug("allocator grew", "off", span.Off, "bytes", span.Len, "free", a.freeBytes)
	return h, nil
}

// ReclaimBlock pushes the block at off onto the head of the free list.
// Only the collector calls this, while the owning mutator is suspended.
func (a *Allocator) ReclaimBlock(off int) error {
	h, err := block.At(a.region.Bytes(), off)
	if err != nil {
		return err
	}
	if err := h.MarkFree(a.head); err != nil {
		logger.Error("reclaim of free block", "block", h.String(), "error", err)
		return err
	}
	a.head = off
	a.freeBytes += h.Size()
	a.stats.ReclaimCalls++
	a.stats.BytesReclaimed += int64(h.Size())
	return nil
}

// pagesFor returns the number of pages a fresh block needs so ShrinkToFit is
// guaranteed to succeed on it: a header, the padded size, room for a trailing
// split and, above the minimum alignment, one full alignment step.
func pagesFor(l format.Layout) int {
	need := format.HeaderSize + l.Padded() + format.MinSplitSize
	if align := l.EffectiveAlign(); align > format.MinAlign {
		need += align
	}
	return format.PagesFor(need)
}
