// Package region owns the single contiguous span of address space that backs
// the managed heap.
//
// The whole span is reserved once at startup and never moves. Usable memory is
// the prefix [0, Len()); growing extends that prefix in whole pages and commits
// backing memory geometrically, doubling the committed size until it covers the
// new length. The region never shrinks on its own.
package region

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/gckit/internal/format"
	"github.com/joshuapare/gckit/internal/logger"
	"github.com/joshuapare/gckit/internal/vmem"
)

// ErrOutOfMemory indicates the reservation cannot satisfy a growth request.
var ErrOutOfMemory = errors.New("region: out of memory")

const (
	// DefaultMaxBytes is the default reservation (2 GiB).
	DefaultMaxBytes = 2 << 30

	// DefaultInitialCommit is committed when the region is created (32 MiB).
	DefaultInitialCommit = 32 << 20
)

// Options configures a Region.
type Options struct {
	// MaxBytes is the size of the address space reservation.
	// Rounded up to a whole page. Default: 2 GiB.
	MaxBytes int

	// InitialCommit is the amount of backing memory committed up front.
	// Clamped to MaxBytes. Default: 32 MiB.
	InitialCommit int
}

// DefaultOptions returns the default region configuration.
func DefaultOptions() Options {
	return Options{
		MaxBytes:      DefaultMaxBytes,
		InitialCommit: DefaultInitialCommit,
	}
}

// Span is a freshly grown range of the region, as an offset and a length.
type Span struct {
	Off int
	Len int
}

// End returns the offset one past the span.
func (s Span) End() int { return s.Off + s.Len }

// Region is the reserved address range of the managed heap.
type Region struct {
	mu        sync.RWMutex
	mapping   *vmem.Mapping
	base      uintptr
	basePtr   unsafe.Pointer
	reserved  int
	committed int
	osPage    int

	// length is written under mu and read without it by Contains.
	length atomic.Int64
}

// New reserves the address space and commits the initial pages.
func New(opts Options) (*Region, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.InitialCommit <= 0 {
		opts.InitialCommit = format.PageSize
	}

	osPage := max(vmem.PageSize(), format.PageSize)
	reserved := format.AlignUp(opts.MaxBytes, osPage)
	initial := min(format.AlignUp(opts.InitialCommit, osPage), reserved)

	m, err := vmem.Reserve(reserved)
	if err != nil {
		return nil, fmt.Errorf("region: reserve %d bytes: %w", reserved, err)
	}
	if err := m.Commit(0, initial); err != nil {
		_ = m.Release()
		return nil, fmt.Errorf("region: initial commit: %w", err)
	}

	basePtr := unsafe.Pointer(unsafe.SliceData(m.Bytes()))
	r := &Region{
		mapping:   m,
		base:      uintptr(basePtr),
		basePtr:   basePtr,
		reserved:  reserved,
		committed: initial,
		osPage:    osPage,
	}
	logger.Debug("region reserved", "base", fmt.Sprintf("%#x", r.base), "reserved", reserved, "committed", initial)
	return r, nil
}

// PageSize returns the growth unit of the region.
func (r *Region) PageSize() int { return format.PageSize }

// GrowBy extends the usable prefix by nPages pages and returns the new span.
// The region is left unchanged when the reservation would be exceeded.
func (r *Region) GrowBy(nPages int) (Span, error) {
	if nPages <= 0 {
		return Span{}, fmt.Errorf("region: grow by %d pages", nPages)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	oldLen := int(r.length.Load())
	grow := nPages * format.PageSize
	newLen := oldLen + grow
	if newLen > r.reserved || newLen < oldLen {
		return Span{}, fmt.Errorf("%w: need %d bytes, reserved %d", ErrOutOfMemory, newLen, r.reserved)
	}

	for r.committed < newLen {
		step := min(r.committed, r.reserved-r.committed)
		step = format.AlignUp(step, r.osPage)
		if err := r.mapping.Commit(r.committed, step); err != nil {
			logger.Error("region commit failed", "offset", r.committed, "bytes", step, "error", err)
			return Span{}, fmt.Errorf("%w: %w", ErrOutOfMemory, err)
		}
		r.committed += step
		logger.Debug("region committed", "committed", r.committed)
	}

	r.length.Store(int64(newLen))
	return Span{Off: oldLen, Len: grow}, nil
}

// Contains reports whether addr lies within [base, base+Len()).
func (r *Region) Contains(addr uintptr) bool {
	return addr >= r.base && addr-r.base < uintptr(r.length.Load())
}

// Offset converts an address into a region offset.
func (r *Region) Offset(addr uintptr) (int, bool) {
	if !r.Contains(addr) {
		return 0, false
	}
	return int(addr - r.base), true
}

// Addr converts a region offset into an address.
func (r *Region) Addr(off int) uintptr {
	return r.base + uintptr(off)
}

// Pointer returns a pointer to the byte at off.
func (r *Region) Pointer(off int) unsafe.Pointer {
	return unsafe.Add(r.basePtr, off)
}

// Bytes returns the usable prefix of the region. The slice stays valid after
// later growth; it simply does not cover the new pages.
func (r *Region) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := int(r.length.Load())
	return r.mapping.Bytes()[:n:n]
}

// Base returns the address of offset 0.
func (r *Region) Base() uintptr { return r.base }

// Len returns the usable length in bytes.
func (r *Region) Len() int { return int(r.length.Load()) }

// Reserved returns the size of the reservation.
func (r *Region) Reserved() int { return r.reserved }

// Committed returns the number of bytes backed by memory.
func (r *Region) Committed() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.committed
}

// Close releases the reservation. No managed value may be used afterwards.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.length.Store(0)
	return r.mapping.Release()
}
