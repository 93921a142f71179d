package codec

import (
	"io/ioutil"

	"golang.org/x/crypto/pbkdf2"

	"github.com/minio/sha256-simd"

	"sixfs/errno"
	"sixfs/util"
)

// KeyFileSize is the on-disk size of a key file: 32 bytes of AEAD key
// followed by 8 reserved bytes, currently ignored (§6).
const KeyFileSize = KeySize + 8

// LoadKeyFile reads a 40-byte key file and returns its 32-byte AEAD
// key. The reserved trailing 8 bytes are read but not interpreted.
func LoadKeyFile(path string) ([]byte, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errno.Wrap(err, "reading key file %s", path)
	}
	if len(b) != KeyFileSize {
		return nil, errno.Wrap(errno.EINVAL, "key file %s must be %d bytes, got %d", path, KeyFileSize, len(b))
	}
	key := make([]byte, KeySize)
	copy(key, b[:KeySize])
	return key, nil
}

// WriteKeyFile writes a 40-byte key file from a 32-byte key, zero
// filling the reserved region.
func WriteKeyFile(path string, key []byte) error {
	if len(key) != KeySize {
		return errno.Wrap(errno.EINVAL, "key must be %d bytes, got %d", KeySize, len(key))
	}
	b := util.ConcatBytes(key, make([]byte, KeyFileSize-KeySize))
	if err := ioutil.WriteFile(path, b, 0600); err != nil {
		return errno.Wrap(err, "writing key file %s", path)
	}
	return nil
}

// DeriveKeyFromPassphrase derives a 32-byte key from a passphrase and
// salt via PBKDF2-HMAC-SHA256, mirroring the teacher's
// storage/factory.NewCryptoStorage password-derived-key convenience
// path, adapted to produce a key file byte string instead of a live
// Codec. Intended for the sixfs-keygen example binary, not for the
// core itself (the core only ever consumes a raw key).
func DeriveKeyFromPassphrase(passphrase, salt string, iterations int) []byte {
	if iterations <= 0 {
		iterations = 12345
	}
	return pbkdf2.Key([]byte(passphrase), []byte(salt), iterations, KeySize, sha256.New)
}
