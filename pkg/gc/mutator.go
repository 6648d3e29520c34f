package gc

import (
	"context"
	"sync"

	"github.com/joshuapare/gckit/gc/heap"
	"github.com/joshuapare/gckit/gc/world"
)

// Mutator is a goroutine's attachment to a heap. It embeds the world
// mutator, so Do, Park, PushFrame and friends are available directly.
type Mutator struct {
	*world.Mutator
	heap *heap.Heap
}

// heaps tracks every heap a mutator was attached to, so a bare handle can
// find the heap that owns it.
var heaps sync.Map // *heap.Heap -> struct{}

// AttachTo attaches a new mutator to h.
func AttachTo(h *heap.Heap) (*Mutator, error) {
	wm, err := h.Attach()
	if err != nil {
		return nil, err
	}
	heaps.Store(h, struct{}{})
	return &Mutator{Mutator: wm, heap: h}, nil
}

// Heap returns the heap m allocates from.
func (m *Mutator) Heap() *heap.Heap { return m.heap }

// Detach removes m from its heap. It must not be called inside Do.
func (m *Mutator) Detach() error { return m.heap.Detach(m.Mutator) }

// WaitForGC blocks until a cycle that starts after the call has completed.
// It may be called inside Do.
func (m *Mutator) WaitForGC(ctx context.Context) error {
	return m.heap.WaitForGC(ctx, m.Mutator)
}

// Collect forces a cycle and waits for it. It may be called inside Do.
func (m *Mutator) Collect(ctx context.Context) error {
	return m.heap.Collect(ctx, m.Mutator)
}

// heapFor returns the open heap that contains addr.
func heapFor(addr uintptr) (*heap.Heap, bool) {
	var found *heap.Heap
	heaps.Range(func(k, _ any) bool {
		h := k.(*heap.Heap)
		if h.Closed() {
			heaps.Delete(h)
			return true
		}
		if h.Contains(addr) {
			found = h
			return false
		}
		return true
	})
	return found, found != nil
}
