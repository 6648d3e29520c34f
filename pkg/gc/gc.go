package gc

import (
	"fmt"

	"github.com/joshuapare/gckit/internal/format"
)

// Gc is a shared handle to an immutable T in the managed heap. The zero
// value is a nil handle.
type Gc[T any] struct {
	addr uintptr
}

// New moves v into the managed heap. m must be running.
func New[T any](m *Mutator, v T) (Gc[T], error) {
	addr, err := allocate[T](m, format.LayoutOf[T](), true)
	if err != nil {
		return Gc[T]{}, err
	}
	*(*T)(pointerAt(addr)) = v
	return Gc[T]{addr: addr}, nil
}

// MustNew is like New but panics on error.
func MustNew[T any](m *Mutator, v T) Gc[T] {
	g, err := New(m, v)
	if err != nil {
		panic(fmt.Sprintf("gc: new %T: %v", v, err))
	}
	return g
}

// FromAddr wraps an address previously obtained from Addr. The caller
// guarantees addr refers to a live T.
func FromAddr[T any](addr uintptr) Gc[T] { return Gc[T]{addr: addr} }

// Get returns a pointer to the value. It must not be written through.
func (g Gc[T]) Get() *T {
	if g.addr == 0 {
		return nil
	}
	return (*T)(pointerAt(g.addr))
}

// Addr returns the address of the value, suitable for a root slot.
func (g Gc[T]) Addr() uintptr { return g.addr }

// IsNil reports whether g is the zero handle.
func (g Gc[T]) IsNil() bool { return g.addr == 0 }

func (g Gc[T]) String() string { return fmt.Sprintf("Gc(%#x)", g.addr) }

// GcMut is the unique handle to a mutable T in the managed heap.
type GcMut[T any] struct {
	addr uintptr
}

// NewMut moves v into the managed heap. m must be running.
func NewMut[T any](m *Mutator, v T) (GcMut[T], error) {
	g, err := New(m, v)
	return GcMut[T](g), err
}

// Promote turns a shared handle into a unique one. The caller guarantees g
// is the only reference to the value.
func Promote[T any](g Gc[T]) GcMut[T] { return GcMut[T](g) }

// Get returns a pointer to the value.
func (g GcMut[T]) Get() *T { return Gc[T](g).Get() }

// Addr returns the address of the value, suitable for a root slot.
func (g GcMut[T]) Addr() uintptr { return g.addr }

// IsNil reports whether g is the zero handle.
func (g GcMut[T]) IsNil() bool { return g.addr == 0 }

// Demote gives up uniqueness and returns a shared handle.
func (g GcMut[T]) Demote() Gc[T] { return Gc[T](g) }

// Release runs the destructor of the value and hands its memory back to the
// heap. The memory is reclaimed in the next cycle even if other words still
// point at it; g must not be used afterwards. A destructor may release values
// it owns; a value the collector already destructed is not destructed again.
func (g GcMut[T]) Release() error {
	if g.addr == 0 {
		return nil
	}
	return release(g.addr, format.LayoutOf[T](), destroy[T])
}

func (g GcMut[T]) String() string { return fmt.Sprintf("GcMut(%#x)", g.addr) }
