package gc

import (
	"unsafe"

	"github.com/joshuapare/gckit/internal/format"
)

// GcSlice is a shared handle to an immutable run of T. Element destructors
// are never run. The zero value is an empty slice.
type GcSlice[T any] struct {
	addr uintptr
	n    int
}

// NewSlice allocates n zeroed elements. m must be running.
func NewSlice[T any](m *Mutator, n int) (GcSlice[T], error) {
	if n == 0 {
		return GcSlice[T]{}, nil
	}
	l, err := format.ArrayLayout[T](n)
	if err != nil {
		return GcSlice[T]{}, err
	}
	addr, err := allocate[T](m, l, false)
	if err != nil {
		return GcSlice[T]{}, err
	}
	return GcSlice[T]{addr: addr, n: n}, nil
}

// CloneSlice copies src into the managed heap.
func CloneSlice[T any](m *Mutator, src []T) (GcSlice[T], error) {
	s, err := NewSlice[T](m, len(src))
	if err != nil {
		return s, err
	}
	copy(s.Slice(), src)
	return s, nil
}

// Slice returns the elements. They must not be written through.
func (s GcSlice[T]) Slice() []T {
	if s.n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(pointerAt(s.addr)), s.n)
}

// Len returns the number of elements.
func (s GcSlice[T]) Len() int { return s.n }

// Addr returns the address of the first element, or 0 when empty.
func (s GcSlice[T]) Addr() uintptr { return s.addr }

// GcMutSlice is the unique handle to a mutable run of T.
type GcMutSlice[T any] struct {
	addr uintptr
	n    int
}

// NewMutSlice allocates n zeroed elements. m must be running.
func NewMutSlice[T any](m *Mutator, n int) (GcMutSlice[T], error) {
	s, err := NewSlice[T](m, n)
	return GcMutSlice[T](s), err
}

// CloneMutSlice copies src into the managed heap.
func CloneMutSlice[T any](m *Mutator, src []T) (GcMutSlice[T], error) {
	s, err := CloneSlice(m, src)
	return GcMutSlice[T](s), err
}

// Slice returns the elements.
func (s GcMutSlice[T]) Slice() []T { return GcSlice[T](s).Slice() }

// Len returns the number of elements.
func (s GcMutSlice[T]) Len() int { return s.n }

// Addr returns the address of the first element, or 0 when empty.
func (s GcMutSlice[T]) Addr() uintptr { return s.addr }

// Demote gives up uniqueness and returns a shared handle.
func (s GcMutSlice[T]) Demote() GcSlice[T] { return GcSlice[T](s) }

// Release hands the memory back to the heap. See GcMut.Release.
func (s GcMutSlice[T]) Release() error {
	if s.n == 0 {
		return nil
	}
	l, err := format.ArrayLayout[T](s.n)
	if err != nil {
		return err
	}
	return release(s.addr, l, nil)
}
