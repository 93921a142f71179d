package codec

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stvp/assert"
)

func TestKeyFileRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "sixfs-keyfile")
	assert.Nil(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "key")
	key := key32(5)
	assert.Nil(t, WriteKeyFile(path, key))

	got, err := LoadKeyFile(path)
	assert.Nil(t, err)
	assert.True(t, bytes.Equal(got, key))

	raw, err := ioutil.ReadFile(path)
	assert.Nil(t, err)
	assert.Equal(t, len(raw), KeyFileSize)
	assert.True(t, bytes.Equal(raw[KeySize:], make([]byte, 8)))
}

func TestLoadKeyFileRejectsWrongSize(t *testing.T) {
	dir, err := ioutil.TempDir("", "sixfs-keyfile")
	assert.Nil(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "key")
	assert.Nil(t, ioutil.WriteFile(path, make([]byte, 10), 0600))

	_, err = LoadKeyFile(path)
	assert.NotNil(t, err)
}

func TestDeriveKeyFromPassphraseDeterministic(t *testing.T) {
	a := DeriveKeyFromPassphrase("hunter2", "salt", 100)
	b := DeriveKeyFromPassphrase("hunter2", "salt", 100)
	c := DeriveKeyFromPassphrase("hunter2", "othersalt", 100)
	assert.True(t, bytes.Equal(a, b))
	assert.True(t, !bytes.Equal(a, c))
	assert.Equal(t, len(a), KeySize)
}
