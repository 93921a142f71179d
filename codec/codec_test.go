package codec

import (
	"bytes"
	"testing"

	"github.com/stvp/assert"
)

func key32(b byte) []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestEncryptingCodecRoundTrip(t *testing.T) {
	c, err := NewEncryptingCodec(key32(1))
	assert.Nil(t, err)

	plaintext := []byte("the quick brown fox")
	aad := []byte("chunk-id-7")

	ct, err := c.EncodeBytes(plaintext, aad)
	assert.Nil(t, err)
	assert.True(t, len(ct) == len(plaintext)+c.Overhead())

	pt, err := c.DecodeBytes(ct, aad)
	assert.Nil(t, err)
	assert.True(t, bytes.Equal(pt, plaintext))
}

func TestEncryptingCodecTamperDetected(t *testing.T) {
	c, err := NewEncryptingCodec(key32(2))
	assert.Nil(t, err)

	ct, err := c.EncodeBytes([]byte("payload"), []byte("aad"))
	assert.Nil(t, err)
	ct[len(ct)-1] ^= 0xFF

	_, err = c.DecodeBytes(ct, []byte("aad"))
	assert.NotNil(t, err)
}

func TestEncryptingCodecWrongAADDetected(t *testing.T) {
	c, err := NewEncryptingCodec(key32(3))
	assert.Nil(t, err)

	ct, err := c.EncodeBytes([]byte("payload"), []byte("aad-1"))
	assert.Nil(t, err)

	_, err = c.DecodeBytes(ct, []byte("aad-2"))
	assert.NotNil(t, err)
}

func TestNewEncryptingCodecRejectsBadKeySize(t *testing.T) {
	_, err := NewEncryptingCodec(make([]byte, 16))
	assert.NotNil(t, err)
}

func TestDeriveSubkeyIsDeterministicAndDomainSeparated(t *testing.T) {
	root := key32(9)
	a := DeriveSubkey(root, LabelInode)
	b := DeriveSubkey(root, LabelInode)
	c := DeriveSubkey(root, LabelDirent)
	assert.True(t, bytes.Equal(a, b))
	assert.True(t, !bytes.Equal(a, c))
	assert.Equal(t, len(a), 32)
}
