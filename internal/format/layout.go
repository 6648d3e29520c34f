package format

import (
	"fmt"
	"unsafe"
)

// Layout describes the size and alignment of a requested allocation.
type Layout struct {
	Size  int
	Align int
}

// LayoutOf returns the layout of a single T.
func LayoutOf[T any]() Layout {
	var zero T
	return Layout{Size: int(unsafe.Sizeof(zero)), Align: int(unsafe.Alignof(zero))}
}

// ArrayLayout returns the layout of n contiguous T values.
func ArrayLayout[T any](n int) (Layout, error) {
	l := LayoutOf[T]()
	if n < 0 || (l.Size > 0 && n > int(^uint(0)>>1)/l.Size) {
		return Layout{}, fmt.Errorf("%w: array of %d elements", ErrBadLayout, n)
	}
	l.Size *= n
	return l, nil
}

// Padded returns the size rounded up to the block granularity.
func (l Layout) Padded() int {
	return Align16(l.Size)
}

// EffectiveAlign returns the alignment the allocator actually honors.
func (l Layout) EffectiveAlign() int {
	return max(l.Align, MinAlign)
}

// Validate checks that the alignment is a power of two no larger than MaxAlign.
// A zero size is reported separately by the allocator.
func (l Layout) Validate() error {
	if l.Size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrBadLayout, l.Size)
	}
	if !IsPowerOfTwo(l.Align) || l.Align > MaxAlign {
		return fmt.Errorf("%w: alignment %d", ErrBadLayout, l.Align)
	}
	return nil
}

func (l Layout) String() string {
	return fmt.Sprintf("{size=%d align=%d}", l.Size, l.Align)
}
