package hostcontainer

import (
	"path/filepath"

	"sixfs/errno"
)

// Kind selects a Container backend at mount time, dispatched
// statically per §9 DESIGN NOTES ("model them as a tagged variant
// behind a common interface").
type Kind int

const (
	KindMemory Kind = iota
	KindFile
	KindMmap
)

func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindFile:
		return "file"
	case KindMmap:
		return "mmap"
	default:
		return "unknown"
	}
}

// Open constructs a Container of the given kind. dir and name are
// ignored for KindMemory; otherwise the container lives at
// filepath.Join(dir, name). capacity bounds the memory backend only
// (0 = unbounded); file/mmap backends report host filesystem capacity
// via Stat.
func Open(kind Kind, dir, name string, capacity uint64) (Container, error) {
	switch kind {
	case KindMemory:
		return NewMemoryContainer(capacity), nil
	case KindFile:
		return OpenFileContainer(filepath.Join(dir, name))
	case KindMmap:
		return OpenMmapContainer(filepath.Join(dir, name))
	default:
		return nil, errno.Wrap(errno.EINVAL, "unknown host container kind %v", kind)
	}
}
