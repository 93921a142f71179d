package chunkstore

import (
	"testing"

	"github.com/stvp/assert"

	"sixfs/codec"
	"sixfs/errno"
	"sixfs/hostcontainer"
)

func newStore(t *testing.T, entitySize int, enc bool) *ChunkStore {
	opts := Options{EntitySize: entitySize, ZeroPunchedData: true}
	if enc {
		key := make([]byte, codec.KeySize)
		for i := range key {
			key[i] = byte(i)
		}
		c, err := codec.NewEncryptingCodec(key)
		assert.Nil(t, err)
		opts.Codec = c
	}
	cs, err := New(hostcontainer.NewMemoryContainer(0), hostcontainer.NewMemoryContainer(0), opts)
	assert.Nil(t, err)
	return cs
}

func payload(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestAddReadRoundTrip(t *testing.T) {
	for _, enc := range []bool{false, true} {
		cs := newStore(t, 16, enc)
		idx, err := cs.Add(payload(16, 0xAB))
		assert.Nil(t, err)
		assert.Equal(t, idx, uint64(0))

		got, err := cs.Read(idx)
		assert.Nil(t, err)
		assert.Equal(t, got, payload(16, 0xAB))
	}
}

func TestRemoveTailShrinksContainer(t *testing.T) {
	cs := newStore(t, 16, false)
	a, err := cs.Add(payload(16, 1))
	assert.Nil(t, err)
	b, err := cs.Add(payload(16, 2))
	assert.Nil(t, err)
	assert.Equal(t, cs.LiveSize(), uint64(2))

	assert.Nil(t, cs.Remove(b))
	assert.Equal(t, cs.LiveSize(), uint64(1))

	// a is still readable.
	got, err := cs.Read(a)
	assert.Nil(t, err)
	assert.Equal(t, got, payload(16, 1))
}

func TestRemoveMiddleZeroPunchedRead(t *testing.T) {
	cs := newStore(t, 16, false)
	a, _ := cs.Add(payload(16, 1))
	_, _ = cs.Add(payload(16, 2))
	c, _ := cs.Add(payload(16, 3))

	assert.Nil(t, cs.Remove(a))
	// a's index is still below liveSize (c is now the tail), so a
	// read must synthesize zeros rather than error.
	got, err := cs.Read(a)
	assert.Nil(t, err)
	assert.Equal(t, got, make([]byte, 16))

	got, err = cs.Read(c)
	assert.Nil(t, err)
	assert.Equal(t, got, payload(16, 3))
}

func TestReadOutOfBoundsIsError(t *testing.T) {
	cs := newStore(t, 16, false)
	_, err := cs.Read(5)
	assert.NotNil(t, err)
}

func TestEncryptedTamperIsEIO(t *testing.T) {
	key := make([]byte, codec.KeySize)
	c, err := codec.NewEncryptingCodec(key)
	assert.Nil(t, err)
	data := hostcontainer.NewMemoryContainer(0)
	cs, err := New(hostcontainer.NewMemoryContainer(0), data, Options{
		EntitySize: 16, Codec: c, ZeroPunchedData: true,
	})
	assert.Nil(t, err)
	idx, err := cs.Add(payload(16, 0x42))
	assert.Nil(t, err)

	// Flip one byte well past the marker+nonce to corrupt the tag.
	buf := make([]byte, 1)
	offset := idx*uint64(cs.chunkSize) + uint64(cs.chunkSize-1)
	_, _ = data.Read(offset, buf)
	buf[0] ^= 0xFF
	assert.Nil(t, data.Write(offset, buf))

	_, err = cs.Read(idx)
	assert.NotNil(t, err)
	assert.True(t, errno.As(err, errno.EIO))
}
