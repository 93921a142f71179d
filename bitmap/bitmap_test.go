package bitmap

import (
	"testing"

	"github.com/stvp/assert"

	"sixfs/hostcontainer"
)

func newBitmap() *Bitmap {
	return New(hostcontainer.NewMemoryContainer(0))
}

func TestFirstZeroOnEmptyIsZero(t *testing.T) {
	b := newBitmap()
	idx, err := b.FirstZero()
	assert.Nil(t, err)
	assert.Equal(t, idx, uint64(0))
}

func TestSetGetRoundTrip(t *testing.T) {
	b := newBitmap()
	assert.Nil(t, b.Set(5, true))
	got, err := b.Get(5)
	assert.Nil(t, err)
	assert.True(t, got)

	got, err = b.Get(4)
	assert.Nil(t, err)
	assert.True(t, !got)
}

func TestFirstZeroAdvancesPastSetBits(t *testing.T) {
	b := newBitmap()
	for i := uint64(0); i < 70; i++ {
		assert.Nil(t, b.Set(i, true))
	}
	idx, err := b.FirstZero()
	assert.Nil(t, err)
	assert.Equal(t, idx, uint64(70))
}

func TestFirstZeroLowersOnClear(t *testing.T) {
	b := newBitmap()
	for i := uint64(0); i < 70; i++ {
		assert.Nil(t, b.Set(i, true))
	}
	assert.Nil(t, b.Set(10, false))

	idx, err := b.FirstZero()
	assert.Nil(t, err)
	assert.Equal(t, idx, uint64(10))
}

func TestSyncTrimsTrailingZeroChunks(t *testing.T) {
	c := hostcontainer.NewMemoryContainer(0)
	b := New(c)
	assert.Nil(t, b.Set(200, true))
	assert.Nil(t, b.Sync())
	sizeAfterSet := c.SizeInBytes()
	assert.True(t, sizeAfterSet > 0)

	assert.Nil(t, b.Set(200, false))
	assert.Nil(t, b.Sync())
	assert.True(t, c.SizeInBytes() < sizeAfterSet)
}

func TestSyncLeavesAtLeastOneChunk(t *testing.T) {
	c := hostcontainer.NewMemoryContainer(0)
	b := New(c)
	assert.Nil(t, b.Set(0, true))
	assert.Nil(t, b.Sync())
	assert.Nil(t, b.Set(0, false))
	assert.Nil(t, b.Sync())
	assert.Equal(t, c.SizeInBytes(), uint64(chunkBytes))
}

func TestHighestLiveIndex(t *testing.T) {
	b := newBitmap()
	assert.Nil(t, b.Set(3, true))
	assert.Nil(t, b.Set(65, true))
	hi, err := b.HighestLiveIndex()
	assert.Nil(t, err)
	assert.Equal(t, hi, uint64(66))
}
