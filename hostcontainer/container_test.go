package hostcontainer

import (
	"io"
	"io/ioutil"
	"os"
	"testing"

	"github.com/stvp/assert"
)

func containers(t *testing.T) map[string]func() (Container, func()) {
	return map[string]func() (Container, func()){
		"memory": func() (Container, func()) {
			return NewMemoryContainer(0), func() {}
		},
		"file": func() (Container, func()) {
			dir, err := ioutil.TempDir("", "sixfs-hostcontainer")
			assert.Nil(t, err)
			c, err := OpenFileContainer(dir + "/data")
			assert.Nil(t, err)
			return c, func() { os.RemoveAll(dir) }
		},
		"mmap": func() (Container, func()) {
			dir, err := ioutil.TempDir("", "sixfs-hostcontainer")
			assert.Nil(t, err)
			c, err := OpenMmapContainer(dir + "/data")
			assert.Nil(t, err)
			return c, func() { os.RemoveAll(dir) }
		},
	}
}

func TestContainersGrowOnWrite(t *testing.T) {
	for name, mk := range containers(t) {
		t.Run(name, func(t *testing.T) {
			c, cleanup := mk()
			defer cleanup()
			defer c.Close()

			assert.Equal(t, c.SizeInBytes(), uint64(0))
			assert.Nil(t, c.Write(10, []byte("hello")))
			assert.Equal(t, c.SizeInBytes(), uint64(15))

			buf := make([]byte, 5)
			n, err := c.Read(10, buf)
			assert.Nil(t, err)
			assert.Equal(t, n, 5)
			assert.Equal(t, string(buf), "hello")
		})
	}
}

func TestContainersReadPastEndIsEOF(t *testing.T) {
	for name, mk := range containers(t) {
		t.Run(name, func(t *testing.T) {
			c, cleanup := mk()
			defer cleanup()
			defer c.Close()

			buf := make([]byte, 5)
			_, err := c.Read(0, buf)
			assert.Equal(t, err, io.EOF)
		})
	}
}

func TestContainersSetSizeShrinkAndGrow(t *testing.T) {
	for name, mk := range containers(t) {
		t.Run(name, func(t *testing.T) {
			c, cleanup := mk()
			defer cleanup()
			defer c.Close()

			assert.Nil(t, c.Write(0, []byte("abcdefgh")))
			assert.Nil(t, c.SetSize(4))
			assert.Equal(t, c.SizeInBytes(), uint64(4))

			assert.Nil(t, c.SetSize(8))
			assert.Equal(t, c.SizeInBytes(), uint64(8))

			buf := make([]byte, 4)
			n, err := c.Read(4, buf)
			assert.Nil(t, err)
			assert.Equal(t, n, 4)
			for _, b := range buf {
				assert.Equal(t, b, byte(0))
			}
		})
	}
}

func TestContainersPunchHoleNeverReturnsError(t *testing.T) {
	for name, mk := range containers(t) {
		t.Run(name, func(t *testing.T) {
			c, cleanup := mk()
			defer cleanup()
			defer c.Close()

			assert.Nil(t, c.Write(0, []byte("0123456789abcdef")))
			assert.Nil(t, c.PunchHole(4, 8))
		})
	}
}
