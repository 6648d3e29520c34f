package region

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gckit/internal/format"
)

func newTestRegion(t *testing.T, maxBytes, initial int) *Region {
	t.Helper()
	r, err := New(Options{MaxBytes: maxBytes, InitialCommit: initial})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func Test_Region_GrowBy(t *testing.T) {
	r := newTestRegion(t, 1<<20, 64<<10)
	require.Equal(t, 0, r.Len())
	require.Equal(t, format.PageSize, r.PageSize())

	span, err := r.GrowBy(2)
	require.NoError(t, err)
	assert.Equal(t, Span{Off: 0, Len: 2 * format.PageSize}, span)
	assert.Equal(t, 2*format.PageSize, r.Len())

	span, err = r.GrowBy(1)
	require.NoError(t, err)
	assert.Equal(t, 2*format.PageSize, span.Off)
	assert.Equal(t, 3*format.PageSize, span.End())

	// Whole prefix is writable.
	data := r.Bytes()
	require.Len(t, data, 3*format.PageSize)
	data[0] = 1
	data[len(data)-1] = 2
	assert.Equal(t, byte(1), *(*byte)(r.Pointer(0)))
}

func Test_Region_CommitsGeometrically(t *testing.T) {
	r := newTestRegion(t, 1<<20, 64<<10)
	initial := r.Committed()

	// One page past the initial commit forces one doubling.
	_, err := r.GrowBy(initial/format.PageSize + 1)
	require.NoError(t, err)
	assert.Equal(t, 2*initial, r.Committed())
	assert.LessOrEqual(t, r.Len(), r.Committed())
	assert.LessOrEqual(t, r.Committed(), r.Reserved())
}

func Test_Region_CommitClampedToReserve(t *testing.T) {
	r := newTestRegion(t, 96<<10, 64<<10)
	_, err := r.GrowBy(r.Reserved() / format.PageSize)
	require.NoError(t, err)
	assert.Equal(t, r.Reserved(), r.Committed())
}

func Test_Region_OutOfMemory(t *testing.T) {
	r := newTestRegion(t, 64<<10, 64<<10)
	pages := r.Reserved() / format.PageSize

	_, err := r.GrowBy(pages - 1)
	require.NoError(t, err)
	before := r.Len()

	_, err = r.GrowBy(2)
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, before, r.Len(), "failed growth must not change length")

	_, err = r.GrowBy(1)
	require.NoError(t, err)
	assert.Equal(t, r.Reserved(), r.Len())
}

func Test_Region_Contains(t *testing.T) {
	r := newTestRegion(t, 1<<20, 64<<10)
	assert.False(t, r.Contains(r.Base()), "empty region contains nothing")

	_, err := r.GrowBy(1)
	require.NoError(t, err)

	assert.True(t, r.Contains(r.Base()))
	assert.True(t, r.Contains(r.Base()+format.PageSize-1))
	assert.False(t, r.Contains(r.Base()+format.PageSize))
	assert.False(t, r.Contains(r.Base()-1))
	assert.False(t, r.Contains(0))

	off, ok := r.Offset(r.Addr(128))
	require.True(t, ok)
	assert.Equal(t, 128, off)
}

func Test_Region_ConcurrentGrow(t *testing.T) {
	r := newTestRegion(t, 4<<20, 64<<10)

	var wg sync.WaitGroup
	spans := make([]Span, 16)
	for i := range spans {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.GrowBy(1 + i%3)
			assert.NoError(t, err)
			spans[i] = s
		}(i)
	}
	wg.Wait()

	total := 0
	for _, s := range spans {
		total += s.Len
	}
	assert.Equal(t, total, r.Len())

	// Spans never overlap.
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			a, b := spans[i], spans[j]
			assert.True(t, a.End() <= b.Off || b.End() <= a.Off, "spans %v and %v overlap", a, b)
		}
	}
}
