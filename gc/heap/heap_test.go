package heap

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gckit/gc/alloc"
	"github.com/joshuapare/gckit/gc/collector"
	"github.com/joshuapare/gckit/gc/region"
	"github.com/joshuapare/gckit/gc/world"
	"github.com/joshuapare/gckit/internal/format"
)

func newTestHeap(t *testing.T, maxBytes int) *Heap {
	t.Helper()
	opts := DefaultOptions()
	opts.Region = region.Options{MaxBytes: maxBytes, InitialCommit: 64 << 10}
	opts.Collector.Interval = -1
	opts.Collector.VerifyHeap = true
	opts.StackWords = 1024

	h, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close()) })
	return h
}

func attach(t *testing.T, h *Heap) *world.Mutator {
	t.Helper()
	m, err := h.Attach()
	require.NoError(t, err)
	return m
}

func Test_Heap_AllocateRequiresRunning(t *testing.T) {
	h := newTestHeap(t, 1<<20)
	m := attach(t, h)

	_, err := h.Allocate(m, format.Layout{Size: 8, Align: 8})
	require.ErrorIs(t, err, ErrNotRunning)
}

func Test_Heap_AllocateRejectsBadLayouts(t *testing.T) {
	h := newTestHeap(t, 1<<20)
	m := attach(t, h)

	err := m.Do(func() error {
		_, err := h.Allocate(m, format.Layout{Size: 0, Align: 8})
		require.ErrorIs(t, err, alloc.ErrZeroSized)

		_, err = h.Allocate(m, format.Layout{Size: 8, Align: 3})
		require.ErrorIs(t, err, alloc.ErrBadAlignment)

		_, err = h.Allocate(m, format.Layout{Size: 8, Align: 2 * format.MaxAlign})
		require.ErrorIs(t, err, alloc.ErrBadAlignment)
		return nil
	})
	require.NoError(t, err)
}

func Test_Heap_AllocateZeroedAndAligned(t *testing.T) {
	h := newTestHeap(t, 1<<20)
	m := attach(t, h)

	err := m.Do(func() error {
		for _, align := range []int{1, 8, 16, 64, 256, 4096} {
			addr, err := h.Allocate(m, format.Layout{Size: 100, Align: align})
			require.NoError(t, err)
			assert.Zero(t, addr%uintptr(align), "align %d", align)
			assert.True(t, h.Contains(addr))

			data := unsafe.Slice((*byte)(h.Pointer(addr)), 100)
			for _, b := range data {
				require.Zero(t, b)
			}
			for i := range data {
				data[i] = 0xAB
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.False(t, h.Contains(0))
}

func Test_Heap_RegistersKeepFreshAllocations(t *testing.T) {
	h := newTestHeap(t, 1<<20)
	m := attach(t, h)

	require.NoError(t, m.Do(func() error {
		_, err := h.Allocate(m, format.Layout{Size: 64, Align: 8})
		return err
	}))

	require.NoError(t, h.Collect(context.Background(), nil))
	var ms MemStats
	h.ReadMemStats(&ms)
	assert.Equal(t, uint64(1), ms.Objects)
	assert.Equal(t, uint64(0), ms.Swept)

	m.ClearRegisters()
	require.NoError(t, h.Collect(context.Background(), nil))
	h.ReadMemStats(&ms)
	assert.Equal(t, uint64(0), ms.Objects)
	assert.Equal(t, uint64(1), ms.Swept)
}

func Test_Heap_OutOfMemoryRetriesAfterCollection(t *testing.T) {
	h := newTestHeap(t, 64*format.PageSize)
	m := attach(t, h)

	err := m.Do(func() error {
		for i := range 200 {
			if _, err := h.Allocate(m, format.Layout{Size: 3000, Align: 8}); err != nil {
				return fmt.Errorf("allocation %d: %w", i, err)
			}
		}
		return nil
	})
	require.NoError(t, err)

	var ms MemStats
	h.ReadMemStats(&ms)
	assert.GreaterOrEqual(t, ms.NumGC, uint32(1))
	assert.LessOrEqual(t, ms.HeapInUse, uint64(64*format.PageSize))
	assert.Zero(t, ms.Corruptions)
}

func Test_Heap_OutOfMemoryWhenEverythingIsLive(t *testing.T) {
	h := newTestHeap(t, 16*format.PageSize)
	m := attach(t, h)

	frame, err := m.PushFrame(64)
	require.NoError(t, err)

	err = m.Do(func() error {
		for i := range frame.Len() {
			addr, err := h.Allocate(m, format.Layout{Size: 3000, Align: 8})
			if err != nil {
				return err
			}
			frame.Set(i, addr)
		}
		return nil
	})
	require.ErrorIs(t, err, alloc.ErrOutOfMemory)
	assert.GreaterOrEqual(t, h.Collector().Cycles(), uint64(1))
}

func Test_Heap_DestructorCannotAllocate(t *testing.T) {
	h := newTestHeap(t, 1<<20)
	m := attach(t, h)

	errs := make(chan error, 1)
	id, err := h.Thunks().Register(nil, func(unsafe.Pointer) {
		_, err := h.Allocate(m, format.Layout{Size: 8, Align: 8})
		errs <- err
	})
	require.NoError(t, err)

	require.NoError(t, m.Do(func() error {
		_, err := h.AllocateWithDestructor(m, format.Layout{Size: 8, Align: 8}, id)
		return err
	}))
	m.ClearRegisters()

	require.NoError(t, h.Collect(context.Background(), nil))
	require.ErrorIs(t, <-errs, ErrAllocInDestructor)
	assert.Equal(t, int64(1), h.Collector().Totals().Destructors)
}

func Test_Heap_UnknownDestructor(t *testing.T) {
	h := newTestHeap(t, 1<<20)
	m := attach(t, h)

	err := m.Do(func() error {
		_, err := h.AllocateWithDestructor(m, format.Layout{Size: 8, Align: 8}, 77)
		return err
	})
	require.Error(t, err)
}

func Test_Heap_DeallocatedMemoryIsReused(t *testing.T) {
	h := newTestHeap(t, 1<<20)
	m := attach(t, h)
	l := format.LayoutOf[[8]int32]()

	frame, err := m.PushFrame(500)
	require.NoError(t, err)
	require.NoError(t, m.Do(func() error {
		for i := range 500 {
			addr, err := h.Allocate(m, l)
			if err != nil {
				return err
			}
			frame.Set(i, addr)
		}
		return nil
	}))

	// Released blocks are reclaimed even while still rooted.
	for i := range 500 {
		require.NoError(t, h.Deallocate(frame.Get(i), l))
	}
	require.NoError(t, h.Collect(context.Background(), nil))

	before := h.Region().Len()
	require.NoError(t, m.Do(func() error {
		_, err := h.Allocate(m, l)
		return err
	}))
	assert.Equal(t, before, h.Region().Len())

	var ms MemStats
	h.ReadMemStats(&ms)
	assert.Equal(t, uint64(500), ms.Released)
	assert.Equal(t, uint64(500), ms.Frees)
	assert.Equal(t, uint64(501), ms.Mallocs)
}

func Test_Heap_DeallocateOutsideHeap(t *testing.T) {
	h := newTestHeap(t, 1<<20)
	x := 5
	err := h.Deallocate(uintptr(unsafe.Pointer(&x)), format.Layout{Size: 8, Align: 8})
	require.ErrorIs(t, err, collector.ErrNotInHeap)
}

func Test_Heap_DeallocateClearsDestructor(t *testing.T) {
	h := newTestHeap(t, 1<<20)
	m := attach(t, h)

	var runs int
	id, err := h.Thunks().Register(nil, func(unsafe.Pointer) { runs++ })
	require.NoError(t, err)

	l := format.Layout{Size: 16, Align: 8}
	var owned, released uintptr
	require.NoError(t, m.Do(func() error {
		if owned, err = h.AllocateWithDestructor(m, l, id); err != nil {
			return err
		}
		released, err = h.AllocateWithDestructor(m, l, id)
		return err
	}))

	pending, err := h.TakeDestructor(owned)
	require.NoError(t, err)
	assert.True(t, pending)
	pending, err = h.TakeDestructor(owned)
	require.NoError(t, err)
	assert.False(t, pending, "destructor is taken once")

	require.NoError(t, h.Deallocate(released, l))
	pending, err = h.TakeDestructor(released)
	require.NoError(t, err)
	assert.False(t, pending, "deallocation clears the destructor")

	m.ClearRegisters()
	require.NoError(t, h.Collect(context.Background(), nil))
	assert.Zero(t, runs)
	assert.Equal(t, 1, h.Collector().LastCycle().Queued)
	assert.Equal(t, 1, h.Collector().LastCycle().Swept)

	_, err = h.TakeDestructor(owned)
	require.ErrorIs(t, err, ErrNotBlock)
}

func Test_Heap_DeallocateRejectsBadRequests(t *testing.T) {
	h := newTestHeap(t, 1<<20)
	m := attach(t, h)

	l := format.Layout{Size: 64, Align: 8}
	var addr uintptr
	require.NoError(t, m.Do(func() error {
		var err error
		addr, err = h.Allocate(m, l)
		return err
	}))

	err := h.Deallocate(addr, format.Layout{Size: 64, Align: 3})
	require.ErrorIs(t, err, alloc.ErrBadAlignment)
	require.ErrorIs(t, err, format.ErrBadLayout)

	err = h.Deallocate(addr, format.Layout{Size: 64, Align: 2 * format.MaxAlign})
	require.ErrorIs(t, err, alloc.ErrBadAlignment)

	require.ErrorIs(t, h.Deallocate(addr+format.MinAlign, l), ErrNotBlock)
	assert.Zero(t, h.Collector().Queued())
}

func Test_Heap_DetachedAllocatorIsAdopted(t *testing.T) {
	h := newTestHeap(t, 1<<20)

	m1 := attach(t, h)
	require.NoError(t, m1.Do(func() error {
		_, err := h.Allocate(m1, format.Layout{Size: 32, Align: 8})
		return err
	}))
	grown := h.Region().Len()
	require.NoError(t, h.Detach(m1))
	require.ErrorIs(t, m1.Do(func() error { return nil }), world.ErrDetached)

	m2 := attach(t, h)
	require.NoError(t, m2.Do(func() error {
		_, err := h.Allocate(m2, format.Layout{Size: 32, Align: 8})
		return err
	}))
	assert.Equal(t, 1, h.registry.Len())
	assert.Equal(t, grown, h.Region().Len())
}

func Test_Heap_WaitForGCParksRunningMutator(t *testing.T) {
	h := newTestHeap(t, 1<<20)
	m := attach(t, h)

	done := make(chan error, 1)
	go func() {
		done <- m.Do(func() error {
			return h.WaitForGC(context.Background(), m)
		})
	}()

	// The cycle can only complete because m parked while waiting.
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			return
		default:
		}
		require.NoError(t, h.Collect(context.Background(), nil))
	}
}

func Test_Heap_ConcurrentMutatorsUseDisjointMemory(t *testing.T) {
	h := newTestHeap(t, 16<<20)
	const perMutator = 1000
	l := format.Layout{Size: 40, Align: 8}

	results := make([][]uintptr, 2)
	var wg sync.WaitGroup
	for i := range results {
		m := attach(t, h)
		frame, err := m.PushFrame(perMutator)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Do(func() error {
				for j := range perMutator {
					addr, err := h.Allocate(m, l)
					if err != nil {
						return err
					}
					frame.Set(j, addr)
					results[i] = append(results[i], addr)
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all := slices.Concat(results...)
	require.Len(t, all, 2*perMutator)
	slices.Sort(all)
	for i := 1; i < len(all); i++ {
		require.LessOrEqual(t, all[i-1]+uintptr(l.Size), all[i], "blocks overlap")
	}
	assert.Equal(t, 2, h.registry.Len())
}

func Test_Heap_Close(t *testing.T) {
	opts := DefaultOptions()
	opts.Region = region.Options{MaxBytes: 1 << 20}
	h, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	_, err = h.Attach()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, h.Collect(context.Background(), nil), ErrClosed)
}
