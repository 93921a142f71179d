package hostcontainer

import (
	"io"
	"sync"

	"sixfs/errno"
)

// MemoryContainer keeps its entire contents in a growable byte slice;
// PunchHole and growth-by-SetSize are both plain slice operations.
type MemoryContainer struct {
	mu       sync.RWMutex
	data     []byte
	capacity uint64
}

// NewMemoryContainer returns an empty in-process Container. capacity
// is advisory (Stat().Capacity); 0 means unbounded.
func NewMemoryContainer(capacity uint64) *MemoryContainer {
	return &MemoryContainer{capacity: capacity}
}

var _ Container = &MemoryContainer{}

func (c *MemoryContainer) Read(offset uint64, dst []byte) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if offset >= uint64(len(c.data)) {
		return 0, io.EOF
	}
	n := copy(dst, c.data[offset:])
	return n, nil
}

func (c *MemoryContainer) Write(offset uint64, src []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	end := offset + uint64(len(src))
	c.growLocked(end)
	copy(c.data[offset:end], src)
	return nil
}

func (c *MemoryContainer) growLocked(size uint64) {
	if size <= uint64(len(c.data)) {
		return
	}
	grown := make([]byte, size)
	copy(grown, c.data)
	c.data = grown
}

func (c *MemoryContainer) PunchHole(offset, length uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	end := offset + length
	if end > uint64(len(c.data)) {
		end = uint64(len(c.data))
	}
	if offset >= end {
		return nil
	}
	for i := offset; i < end; i++ {
		c.data[i] = 0
	}
	return nil
}

func (c *MemoryContainer) SetSize(length uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if length <= uint64(len(c.data)) {
		c.data = c.data[:length]
		return nil
	}
	c.growLocked(length)
	return nil
}

func (c *MemoryContainer) SizeInBytes() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.data))
}

func (c *MemoryContainer) Stat() (Stat, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.capacity == 0 {
		return Stat{Capacity: ^uint64(0), Free: ^uint64(0)}, nil
	}
	used := uint64(len(c.data))
	if used > c.capacity {
		return Stat{}, errno.Wrap(errno.ENOSPC, "memory container exceeded its configured capacity")
	}
	return Stat{Capacity: c.capacity, Free: c.capacity - used}, nil
}

func (c *MemoryContainer) Close() error { return nil }
