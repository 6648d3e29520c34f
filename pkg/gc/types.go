package gc

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/joshuapare/gckit/gc/heap"
	"github.com/joshuapare/gckit/internal/format"
)

// Destructor is implemented by *T for managed types that need cleanup.
type Destructor interface {
	Destroy()
}

var pointerFreeCache sync.Map // reflect.Type -> bool

// checkType fails for types the managed heap cannot hold.
func checkType[T any]() error {
	t := reflect.TypeFor[T]()
	if v, ok := pointerFreeCache.Load(t); ok {
		if !v.(bool) {
			return fmt.Errorf("%w: %s", ErrPointerType, t)
		}
		return nil
	}
	ok := pointerFree(t)
	pointerFreeCache.Store(t, ok)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPointerType, t)
	}
	return nil
}

func pointerFree(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Array:
		return t.Len() == 0 || pointerFree(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if !pointerFree(t.Field(i).Type) {
				return false
			}
		}
		return true
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Slice,
		reflect.String, reflect.Chan, reflect.Func, reflect.Interface:
		return false
	default:
		return true
	}
}

// destructorFor registers the Destroy thunk of T with h, returning
// format.NoDestructor when *T has none.
func destructorFor[T any](h *heap.Heap) (uint64, error) {
	if _, ok := any((*T)(nil)).(Destructor); !ok {
		return format.NoDestructor, nil
	}
	return h.Thunks().Register(reflect.TypeFor[T](), func(p unsafe.Pointer) {
		any((*T)(p)).(Destructor).Destroy()
	})
}

// destroy runs the destructor of the T at addr, if it has one.
func destroy[T any](addr uintptr) {
	if d, ok := any((*T)(pointerAt(addr))).(Destructor); ok {
		d.Destroy()
	}
}

// allocate checks T and returns a zeroed block for l from m's heap.
func allocate[T any](m *Mutator, l format.Layout, withDestructor bool) (uintptr, error) {
	if err := checkType[T](); err != nil {
		return 0, err
	}
	if !withDestructor {
		return m.heap.Allocate(m.Mutator, l)
	}
	id, err := destructorFor[T](m.heap)
	if err != nil {
		return 0, err
	}
	if id == format.NoDestructor {
		return m.heap.Allocate(m.Mutator, l)
	}
	return m.heap.AllocateWithDestructor(m.Mutator, l, id)
}

// release hands the block at addr back to the heap that owns it. destroy,
// when set, runs first if the block still carries a destructor.
func release(addr uintptr, l format.Layout, destroy func(uintptr)) error {
	h, ok := heapFor(addr)
	if !ok {
		return fmt.Errorf("%w: %#x", ErrNotManaged, addr)
	}
	if destroy != nil {
		pending, err := h.TakeDestructor(addr)
		if err != nil {
			return err
		}
		if pending {
			destroy(addr)
		}
	}
	return h.Deallocate(addr, l)
}

// pointerAt converts a managed address to a pointer. The memory is outside
// the Go heap.
func pointerAt(addr uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr))
}
