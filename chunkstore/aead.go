package chunkstore

import (
	"encoding/binary"

	"sixfs/codec"
	"sixfs/errno"
	"sixfs/util"
)

// markerByte distinguishes a genuine ciphertext (always written as
// 0xFF) from a punched-hole region that decodes to all-zero plaintext
// without the cipher ever running (§4.3).
const markerByte = 0xFF

func chunkAAD(index uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, index)
	return b
}

// wrapChunk produces the on-disk form of one encrypted chunk:
// [marker | nonce | ciphertext | tag].
func wrapChunk(c *codec.EncryptingCodec, index uint64, plaintext []byte) ([]byte, error) {
	ct, err := c.EncodeBytes(plaintext, chunkAAD(index))
	if err != nil {
		return nil, errno.Wrap(err, "encrypting chunk %d", index)
	}
	return util.ConcatBytes([]byte{markerByte}, ct), nil
}

// unwrapChunk reverses wrapChunk. A leading zero byte (the only way a
// genuine chunk could start with 0, since wrapChunk always writes
// 0xFF) means a punched hole: it synthesizes entitySize zero bytes
// without invoking the cipher at all. Any other marker that fails
// authentication is an unrecoverable error for this chunk (§4.3).
func unwrapChunk(c *codec.EncryptingCodec, index uint64, stored []byte, entitySize int) ([]byte, error) {
	if len(stored) == 0 || stored[0] == 0 {
		return make([]byte, entitySize), nil
	}
	pt, err := c.DecodeBytes(stored[1:], chunkAAD(index))
	if err != nil {
		return nil, errno.Wrap(errno.EIO, "chunk %d failed AEAD authentication", index)
	}
	return pt, nil
}
