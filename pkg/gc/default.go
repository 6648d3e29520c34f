package gc

import (
	"context"
	"sync"

	"github.com/joshuapare/gckit/gc/heap"
)

var (
	defaultMu   sync.Mutex
	defaultOpts = heap.DefaultOptions()
	defaultHeap *heap.Heap
)

// Configure sets the options of the default heap. It fails once the default
// heap exists.
func Configure(opts heap.Options) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultHeap != nil {
		return ErrConfigured
	}
	defaultOpts = opts
	return nil
}

// Default returns the process-wide heap, creating it on first use.
func Default() (*heap.Heap, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultHeap != nil {
		return defaultHeap, nil
	}
	h, err := heap.New(defaultOpts)
	if err != nil {
		return nil, err
	}
	defaultHeap = h
	heaps.Store(h, struct{}{})
	return h, nil
}

// Attach attaches a new mutator to the default heap.
func Attach() (*Mutator, error) {
	h, err := Default()
	if err != nil {
		return nil, err
	}
	return AttachTo(h)
}

// WaitForGC blocks until a cycle of the default heap that starts after the
// call has completed. Use Mutator.WaitForGC from inside Do.
func WaitForGC(ctx context.Context) error {
	h, err := Default()
	if err != nil {
		return err
	}
	return h.WaitForGC(ctx, nil)
}

// Collect forces a cycle of the default heap and waits for it. Use
// Mutator.Collect from inside Do.
func Collect(ctx context.Context) error {
	h, err := Default()
	if err != nil {
		return err
	}
	return h.Collect(ctx, nil)
}

// Manages reports whether addr points into an open heap.
func Manages(addr uintptr) bool {
	_, ok := heapFor(addr)
	return ok
}
