// codec implements per-chunk authenticated encryption (§4.3, §6):
// AES-256-GCM with a random nonce per call, the same construction the
// teacher's codec package uses for its own block encryption.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"

	"github.com/minio/sha256-simd"

	"sixfs/errno"
)

// Codec is a single reversible byte-slice transform, bound to
// additional authenticated data (the chunk's identity, so a ciphertext
// cannot be replayed into a different chunk's slot undetected).
type Codec interface {
	EncodeBytes(plaintext, additionalData []byte) (ciphertext []byte, err error)
	DecodeBytes(ciphertext, additionalData []byte) (plaintext []byte, err error)
}

// KeySize is the size of the AEAD key consumed by EncryptingCodec.
const KeySize = 32

// EncryptingCodec is an AES-256-GCM Codec keyed by a fixed 32-byte key.
type EncryptingCodec struct {
	gcm cipher.AEAD
}

// NewEncryptingCodec builds an EncryptingCodec from a 32-byte key.
func NewEncryptingCodec(key []byte) (*EncryptingCodec, error) {
	if len(key) != KeySize {
		return nil, errno.Wrap(errno.EINVAL, "AEAD key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errno.Wrap(err, "aes.NewCipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errno.Wrap(err, "cipher.NewGCM")
	}
	return &EncryptingCodec{gcm: gcm}, nil
}

// NonceSize returns the size of the random nonce EncodeBytes prepends.
func (c *EncryptingCodec) NonceSize() int { return c.gcm.NonceSize() }

// Overhead returns the nonce+tag bytes EncodeBytes adds to plaintext.
func (c *EncryptingCodec) Overhead() int { return c.gcm.NonceSize() + c.gcm.Overhead() }

func (c *EncryptingCodec) EncodeBytes(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errno.Wrap(err, "reading AEAD nonce")
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+c.gcm.Overhead())
	out = append(out, nonce...)
	out = c.gcm.Seal(out, nonce, plaintext, additionalData)
	return out, nil
}

func (c *EncryptingCodec) DecodeBytes(ciphertext, additionalData []byte) ([]byte, error) {
	ns := c.gcm.NonceSize()
	if len(ciphertext) < ns {
		return nil, errno.Wrap(errno.EIO, "ciphertext shorter than nonce")
	}
	nonce, ct := ciphertext[:ns], ciphertext[ns:]
	plaintext, err := c.gcm.Open(nil, nonce, ct, additionalData)
	if err != nil {
		return nil, errno.Wrap(errno.EIO, "AEAD authentication failed")
	}
	return plaintext, nil
}

// DeriveSubkey derives a 32-byte subkey from a root key and a fixed
// label (HMAC-SHA256(rootKey, label)), keeping the three ChunkStores'
// nonce spaces independent under one root secret (§4.3).
func DeriveSubkey(rootKey []byte, label string) []byte {
	mac := hmac.New(sha256.New, rootKey)
	mac.Write([]byte(label))
	return mac.Sum(nil)
}

// Subkey labels, one per entity ChunkStore.
const (
	LabelInode  = "inode"
	LabelDirent = "dirent"
	LabelBlock  = "block"
)
