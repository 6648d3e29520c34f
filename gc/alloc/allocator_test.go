package alloc

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gckit/gc/block"
	"github.com/joshuapare/gckit/gc/region"
	"github.com/joshuapare/gckit/internal/format"
)

func newTestRegion(t *testing.T, maxBytes int) *region.Region {
	t.Helper()
	r, err := region.New(region.Options{MaxBytes: maxBytes, InitialCommit: 64 << 10})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func newTestAllocator(t *testing.T, maxBytes int) (*region.Region, *Allocator) {
	t.Helper()
	r := newTestRegion(t, maxBytes)
	a, err := TryNew(r, DefaultOptions())
	require.NoError(t, err)
	return r, a
}

// verifyHeap checks the whole chain and that the free list matches FreeBytes.
func verifyHeap(t *testing.T, r *region.Region, allocs ...*Allocator) block.Summary {
	t.Helper()
	heads := make([]int, 0, len(allocs))
	free := 0
	for _, a := range allocs {
		heads = append(heads, a.Head())
		free += a.FreeBytes()
	}
	s, err := block.Verify(r.Bytes(), heads...)
	require.NoError(t, err)
	require.Equal(t, free, s.FreeBytes, "free byte accounting drifted")
	return s
}

func Test_Allocator_TryNew(t *testing.T) {
	r, a := newTestAllocator(t, 1<<20)
	assert.Equal(t, format.PageSize, r.Len())
	assert.Equal(t, format.PageSize-format.HeaderSize, a.FreeBytes())
	assert.Equal(t, 0, a.Head())
	require.Len(t, a.Spans(), 1)
	verifyHeap(t, r, a)
}

func Test_Allocator_SimpleFit(t *testing.T) {
	r, a := newTestAllocator(t, 1<<20)
	before := a.FreeBytes()

	h, err := a.RawAllocate(format.Layout{Size: 32, Align: 8}, 0)
	require.NoError(t, err)
	assert.True(t, h.IsAllocated())
	assert.Equal(t, 32, h.Size())
	assert.Equal(t, before-32-format.HeaderSize, a.FreeBytes())
	assert.Equal(t, 1, a.Stats().AllocFastPath)
	assert.Equal(t, 1, a.Stats().SplitCount)

	s := verifyHeap(t, r, a)
	assert.Equal(t, 1, s.Allocated)
}

func Test_Allocator_RejectsBadLayouts(t *testing.T) {
	_, a := newTestAllocator(t, 1<<20)

	_, err := a.RawAllocate(format.Layout{Size: 0, Align: 8}, 0)
	require.ErrorIs(t, err, ErrZeroSized)

	_, err = a.RawAllocate(format.Layout{Size: 8, Align: 3}, 0)
	require.ErrorIs(t, err, ErrBadAlignment)

	_, err = a.RawAllocate(format.Layout{Size: 8, Align: 2 * format.MaxAlign}, 0)
	require.ErrorIs(t, err, ErrBadAlignment)

	assert.Equal(t, 3, a.Stats().AllocFailed)
}

func Test_Allocator_ZeroesData(t *testing.T) {
	_, a := newTestAllocator(t, 1<<20)
	l := format.Layout{Size: 64, Align: 8}

	h, err := a.RawAllocate(l, 0)
	require.NoError(t, err)
	for i := range h.Data() {
		h.Data()[i] = 0xFF
	}
	require.NoError(t, a.ReclaimBlock(h.Off))

	again, err := a.RawAllocate(l, 0)
	require.NoError(t, err)
	require.Equal(t, h.Off, again.Off, "head of the free list is reused first")
	for _, b := range again.Data() {
		require.Zero(t, b)
	}
}

func Test_Allocator_GrowsForLargeRequest(t *testing.T) {
	r, a := newTestAllocator(t, 1<<20)

	h, err := a.RawAllocate(format.Layout{Size: 10000, Align: 8}, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, h.Size(), 10000)
	assert.Equal(t, 1, a.Stats().AllocSlowPath)
	assert.Greater(t, r.Len(), format.PageSize)
	require.Len(t, a.Spans(), 2)
	verifyHeap(t, r, a)
}

func Test_Allocator_MaxAlignment(t *testing.T) {
	r, a := newTestAllocator(t, 1<<20)

	h, err := a.RawAllocate(format.Layout{Size: 100, Align: format.MaxAlign}, 0)
	require.NoError(t, err)
	assert.Zero(t, r.Addr(h.DataOffset())%format.MaxAlign)
	verifyHeap(t, r, a)
}

func Test_Allocator_DestructorRecorded(t *testing.T) {
	_, a := newTestAllocator(t, 1<<20)
	h, err := a.RawAllocate(format.Layout{Size: 16, Align: 8}, 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), h.Destructor())
}

func Test_Allocator_ReclaimBlock(t *testing.T) {
	r, a := newTestAllocator(t, 1<<20)

	h, err := a.RawAllocate(format.Layout{Size: 48, Align: 8}, 0)
	require.NoError(t, err)
	afterAlloc := a.FreeBytes()

	require.NoError(t, a.ReclaimBlock(h.Off))
	assert.Equal(t, afterAlloc+48, a.FreeBytes())
	assert.Equal(t, h.Off, a.Head())
	assert.Equal(t, 1, a.Stats().ReclaimCalls)
	verifyHeap(t, r, a)

	require.ErrorIs(t, a.ReclaimBlock(h.Off), block.ErrAlreadyFree)
}

func Test_Allocator_OutOfMemory(t *testing.T) {
	r, a := newTestAllocator(t, 64<<10)

	var err error
	for range 1000 {
		_, err = a.RawAllocate(format.Layout{Size: 1024, Align: 8}, 0)
		if err != nil {
			break
		}
	}
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.LessOrEqual(t, r.Len(), r.Reserved())
	verifyHeap(t, r, a)
}

// Test_Allocator_RandomDisjoint allocates and frees random layouts and checks
// alignment, disjointness and the chain after every operation.
func Test_Allocator_RandomDisjoint(t *testing.T) {
	r, a := newTestAllocator(t, 8<<20)
	rng := rand.New(rand.NewPCG(7, 11))

	type live struct{ lo, hi int }
	var blocks []live
	var offs []int

	for i := range 2000 {
		if len(offs) > 0 && rng.IntN(3) == 0 {
			k := rng.IntN(len(offs))
			require.NoError(t, a.ReclaimBlock(offs[k]))
			offs = append(offs[:k], offs[k+1:]...)
			blocks = append(blocks[:k], blocks[k+1:]...)
			continue
		}

		l := format.Layout{Size: 1 + rng.IntN(512), Align: 1 << rng.IntN(8)}
		h, err := a.RawAllocate(l, 0)
		require.NoError(t, err, "iteration %d layout %v", i, l)
		require.GreaterOrEqual(t, h.Size(), l.Size)
		require.Zero(t, r.Addr(h.DataOffset())%uintptr(l.EffectiveAlign()))

		for _, b := range blocks {
			require.True(t, h.Next() <= b.lo || b.hi <= h.DataOffset(), "overlap")
		}
		blocks = append(blocks, live{h.DataOffset(), h.Next()})
		offs = append(offs, h.Off)

		if i%100 == 0 {
			verifyHeap(t, r, a)
		}
	}
	verifyHeap(t, r, a)
}

func Test_Allocator_SharedRegion(t *testing.T) {
	r := newTestRegion(t, 4<<20)
	a1, err := TryNew(r, DefaultOptions())
	require.NoError(t, err)
	a2, err := TryNew(r, Options{InitialPages: 2})
	require.NoError(t, err)

	for range 200 {
		_, err := a1.RawAllocate(format.Layout{Size: 100, Align: 16}, 0)
		require.NoError(t, err)
		_, err = a2.RawAllocate(format.Layout{Size: 300, Align: 64}, 0)
		require.NoError(t, err)
	}
	s := verifyHeap(t, r, a1, a2)
	assert.Equal(t, 400, s.Allocated)
}

func Test_Registry_GetAndAdopt(t *testing.T) {
	r := newTestRegion(t, 4<<20)
	reg := NewRegistry(r, DefaultOptions())

	reg.RLock()
	a1, err := reg.Get(1)
	require.NoError(t, err)
	same, err := reg.Get(1)
	require.NoError(t, err)
	reg.RUnlock()
	assert.Same(t, a1, same)
	assert.Equal(t, 1, reg.Len())

	reg.Release(1)
	_, ok := reg.Lookup(1)
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len(), "parked allocators still count")

	reg.RLock()
	a2, err := reg.Get(2)
	reg.RUnlock()
	require.NoError(t, err)
	assert.Same(t, a1, a2, "parked allocator is adopted")
}

func Test_Registry_ConcurrentGet(t *testing.T) {
	r := newTestRegion(t, 16<<20)
	reg := NewRegistry(r, DefaultOptions())

	var wg sync.WaitGroup
	for id := range uint64(8) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.RLock()
			defer reg.RUnlock()
			a, err := reg.Get(id)
			if !assert.NoError(t, err) {
				return
			}
			for range 100 {
				_, err := a.RawAllocate(format.Layout{Size: 24, Align: 8}, 0)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	reg.Lock()
	defer reg.Unlock()
	assert.Equal(t, 8, reg.Len())
	s, err := block.Verify(r.Bytes(), reg.Heads()...)
	require.NoError(t, err)
	assert.Equal(t, 800, s.Allocated)

	stats, free := reg.Stats()
	assert.Equal(t, 800, stats.AllocCalls)
	assert.Equal(t, s.FreeBytes, free)
}
