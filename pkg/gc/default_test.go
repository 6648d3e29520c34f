package gc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gckit/gc/heap"
	"github.com/joshuapare/gckit/gc/region"
)

func Test_Default_ConfigureThenUse(t *testing.T) {
	opts := heap.DefaultOptions()
	opts.Region = region.Options{MaxBytes: 4 << 20}
	opts.Collector.Interval = -1
	require.NoError(t, Configure(opts))

	h, err := Default()
	require.NoError(t, err)
	again, err := Default()
	require.NoError(t, err)
	assert.Same(t, h, again)
	assert.Equal(t, 4<<20, h.Region().Reserved())

	require.ErrorIs(t, Configure(heap.DefaultOptions()), ErrConfigured)

	m, err := Attach()
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Detach()) }()

	var g Gc[int64]
	require.NoError(t, m.Do(func() error {
		var err error
		g, err = New(m, int64(11))
		return err
	}))
	assert.Equal(t, int64(11), *g.Get())
	assert.True(t, Manages(g.Addr()))
	assert.False(t, Manages(0))

	require.NoError(t, Collect(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, WaitForGC(ctx), context.Canceled)
}
