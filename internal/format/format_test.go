package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Align(t *testing.T) {
	assert.Equal(t, 16, Align16(1))
	assert.Equal(t, 16, Align16(16))
	assert.Equal(t, 32, Align16(17))
	assert.Equal(t, 0, Align16(0))

	assert.Equal(t, PageSize, AlignPage(1))
	assert.Equal(t, PageSize, AlignPage(PageSize))
	assert.Equal(t, 2*PageSize, AlignPage(PageSize+1))

	assert.Equal(t, 64, AlignUp(33, 32))
	assert.Equal(t, 256, AlignUp(256, 256))
	assert.Equal(t, 3, PagesFor(2*PageSize+1))
}

func Test_IsPowerOfTwo(t *testing.T) {
	for _, n := range []int{1, 2, 4, 16, 4096} {
		assert.True(t, IsPowerOfTwo(n), n)
	}
	for _, n := range []int{0, -2, 3, 12, 4097} {
		assert.False(t, IsPowerOfTwo(n), n)
	}
}

func Test_WordRoundTrip(t *testing.T) {
	buf := make([]byte, 32)
	PutU64(buf, 8, 0xdeadbeefcafef00d)
	require.Equal(t, uint64(0xdeadbeefcafef00d), ReadU64(buf, 8))

	PutWord(buf, 16, uintptr(0x1234))
	require.Equal(t, uintptr(0x1234), ReadWord(buf, 16))
}

func Test_Layout(t *testing.T) {
	l := LayoutOf[[8]int32]()
	assert.Equal(t, 32, l.Size)
	assert.Equal(t, 4, l.Align)
	assert.Equal(t, MinAlign, l.EffectiveAlign())
	assert.Equal(t, 32, l.Padded())
	require.NoError(t, l.Validate())

	arr, err := ArrayLayout[uint64](5)
	require.NoError(t, err)
	assert.Equal(t, 40, arr.Size)
	assert.Equal(t, 48, arr.Padded())

	_, err = ArrayLayout[uint64](-1)
	require.ErrorIs(t, err, ErrBadLayout)

	require.ErrorIs(t, Layout{Size: 8, Align: 3}.Validate(), ErrBadLayout)
	require.ErrorIs(t, Layout{Size: 8, Align: 2 * MaxAlign}.Validate(), ErrBadLayout)
	require.NoError(t, Layout{Size: 8, Align: MaxAlign}.Validate())
}
