package hostcontainer

import (
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"sixfs/errno"
)

const pageSize = 4096

// MmapContainer backs a Container with a file mapped into this
// process's address space, grown with ftruncate+mremap rounded up to
// the page size (§4.1). PunchHole is a no-op: mmap offers no
// equivalent of FALLOC_FL_PUNCH_HOLE over an existing mapping, so hole
// reclamation for this backend is purely logical (bitmap bookkeeping
// above this layer), never physical.
type MmapContainer struct {
	mu       sync.RWMutex
	f        *os.File
	data     []byte // mapped region, len(data) is a page-size multiple
	size     uint64 // logical size, <= len(data)
}

var _ Container = &MmapContainer{}

// OpenMmapContainer opens (creating if necessary) path, maps it, and
// picks up its logical size from the file's current length.
func OpenMmapContainer(path string) (*MmapContainer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errno.Wrap(err, "opening mmap host container %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errno.Wrap(err, "stat mmap host container %s", path)
	}
	size := uint64(fi.Size())
	mapped := roundUpPage(size)
	if mapped == 0 {
		mapped = pageSize
	}
	if err := f.Truncate(int64(mapped)); err != nil {
		f.Close()
		return nil, errno.Wrap(err, "truncating mmap host container to page size")
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(mapped), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errno.Wrap(err, "mmap host container %s", path)
	}
	return &MmapContainer{f: f, data: data, size: size}, nil
}

func roundUpPage(n uint64) uint64 {
	return (n + pageSize - 1) / pageSize * pageSize
}

func (c *MmapContainer) Read(offset uint64, dst []byte) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if offset >= c.size {
		return 0, io.EOF
	}
	n := copy(dst, c.data[offset:c.size])
	return n, nil
}

func (c *MmapContainer) Write(offset uint64, src []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	end := offset + uint64(len(src))
	if err := c.growLocked(end); err != nil {
		return err
	}
	copy(c.data[offset:end], src)
	if end > c.size {
		c.size = end
	}
	return nil
}

func (c *MmapContainer) growLocked(size uint64) error {
	if size <= uint64(len(c.data)) {
		return nil
	}
	newMapped := roundUpPage(size)
	if err := c.f.Truncate(int64(newMapped)); err != nil {
		return errno.Wrap(err, "truncating mmap host container to %d", newMapped)
	}
	newData, err := unix.Mremap(c.data, int(newMapped), unix.MREMAP_MAYMOVE)
	if err != nil {
		return errno.Wrap(err, "mremap host container to %d", newMapped)
	}
	c.data = newData
	return nil
}

func (c *MmapContainer) PunchHole(offset, length uint64) error {
	// No-op per §4.1; the core never relies on this for correctness.
	return nil
}

func (c *MmapContainer) SetSize(length uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if length > uint64(len(c.data)) {
		if err := c.growLocked(length); err != nil {
			return err
		}
	} else if length < c.size {
		for i := length; i < c.size; i++ {
			c.data[i] = 0
		}
	}
	c.size = length
	return nil
}

func (c *MmapContainer) SizeInBytes() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

func (c *MmapContainer) Stat() (Stat, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var st unix.Statfs_t
	if err := unix.Fstatfs(int(c.f.Fd()), &st); err != nil {
		return Stat{}, errno.Wrap(err, "statfs on mmap host container")
	}
	free := st.Bavail * uint64(st.Bsize)
	return Stat{Capacity: free + c.size, Free: free}, nil
}

// Close resets the on-disk file size to the logical size before
// unmapping (§4.1 — the mapped region is page-rounded, the file
// should not stay rounded up on disk after close).
func (c *MmapContainer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := unix.Munmap(c.data); err != nil {
		return errno.Wrap(err, "munmap host container")
	}
	if err := c.f.Truncate(int64(c.size)); err != nil {
		c.f.Close()
		return errno.Wrap(err, "truncating mmap host container to logical size on close")
	}
	if err := c.f.Close(); err != nil {
		return errno.Wrap(err, "closing mmap host container file")
	}
	return nil
}
