package measurement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleBufferWindow(t *testing.T) {
	var b SampleBuffer

	skip, n := b.Window(25)
	assert.Equal(t, 0, skip)
	assert.Equal(t, 0, n)

	for i := 0; i < 10; i++ {
		_, err := b.Push(UplinkSample{BER10k: uint32(i)})
		require.NoError(t, err)
	}

	skip, n = b.Window(25)
	assert.Equal(t, 0, skip)
	assert.Equal(t, 10, n)

	skip, n = b.Window(3)
	assert.Equal(t, 7, skip)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint32(7), b.At(skip).BER10k)

	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Panics(t, func() { b.At(0) })
}

func TestSampleBufferPushReturnsStoredCopy(t *testing.T) {
	var b SampleBuffer

	in := UplinkSample{InvRSSI: 80}
	dest, err := b.Push(in)
	require.NoError(t, err)

	dest.IsSub = true
	assert.True(t, b.At(0).IsSub)
	assert.False(t, in.IsSub)
}
