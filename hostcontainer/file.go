package hostcontainer

import (
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"sixfs/errno"
)

// FileContainer backs a Container with a single regular file, grown
// and shrunk with ftruncate and read/written with pread/pwrite loops
// (§4.1). PunchHole uses FALLOC_FL_PUNCH_HOLE|FALLOC_FL_KEEP_SIZE and
// silently ignores ENOTSUP/EOPNOTSUPP, since punching is an
// optimization the core never depends on for correctness.
type FileContainer struct {
	mu   sync.RWMutex
	f    *os.File
	size uint64
}

var _ Container = &FileContainer{}

// OpenFileContainer opens (creating if necessary) path as a
// FileContainer, picking up its current size from the filesystem.
func OpenFileContainer(path string) (*FileContainer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errno.Wrap(err, "opening host container file %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errno.Wrap(err, "stat host container file %s", path)
	}
	return &FileContainer{f: f, size: uint64(fi.Size())}, nil
}

func (c *FileContainer) Read(offset uint64, dst []byte) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if offset >= c.size {
		return 0, io.EOF
	}
	want := len(dst)
	if avail := c.size - offset; uint64(want) > avail {
		want = int(avail)
		dst = dst[:want]
	}
	total := 0
	for total < want {
		n, err := unix.Pread(int(c.f.Fd()), dst[total:], int64(offset)+int64(total))
		if err != nil {
			return total, errno.Wrap(err, "pread on host container")
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

func (c *FileContainer) Write(offset uint64, src []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	end := offset + uint64(len(src))
	if end > c.size {
		if err := c.f.Truncate(int64(end)); err != nil {
			return errno.Wrap(err, "growing host container to %d", end)
		}
		c.size = end
	}
	total := 0
	for total < len(src) {
		n, err := unix.Pwrite(int(c.f.Fd()), src[total:], int64(offset)+int64(total))
		if err != nil {
			return errno.Wrap(err, "pwrite on host container")
		}
		total += n
	}
	return nil
}

func (c *FileContainer) PunchHole(offset, length uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if length == 0 {
		return nil
	}
	err := unix.Fallocate(int(c.f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, int64(offset), int64(length))
	if err != nil && err != unix.ENOTSUP && err != unix.EOPNOTSUPP {
		return errno.Wrap(err, "fallocate punch-hole on host container")
	}
	return nil
}

func (c *FileContainer) SetSize(length uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.f.Truncate(int64(length)); err != nil {
		return errno.Wrap(err, "truncating host container to %d", length)
	}
	c.size = length
	return nil
}

func (c *FileContainer) SizeInBytes() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

func (c *FileContainer) Stat() (Stat, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var st unix.Statfs_t
	if err := unix.Fstatfs(int(c.f.Fd()), &st); err != nil {
		return Stat{}, errno.Wrap(err, "statfs on host container")
	}
	free := st.Bavail * uint64(st.Bsize)
	return Stat{Capacity: free + c.size, Free: free}, nil
}

func (c *FileContainer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.f.Close(); err != nil {
		return errno.Wrap(err, "closing host container file")
	}
	return nil
}
