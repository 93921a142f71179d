// inode implements §4.4: the InodeHandle layer. A Handle mediates all
// per-inode operations (slot addressing through the five indirection
// trees, regular-file read/write/truncate, directory entries, xattrs,
// hole punching) and is owned exclusively by a process-wide Table that
// reference-counts it and runs deferred unlink on last release.
package inode

import (
	"sixfs/chunkstore"
	"sixfs/errno"
	"sixfs/util"
	"sixfs/wire"
)

// Stores bundles the three entity ChunkStores a Table needs: one per
// entity kind named in §6 (inodedat, direndat, blockdat).
type Stores struct {
	Inode  *chunkstore.ChunkStore
	Dirent *chunkstore.ChunkStore
	Block  *chunkstore.ChunkStore
}

// Table is the process-wide handle table of §4.4/§5: keyed by inode
// index, reference counted, the only place that may evict a Handle
// and run its deferred unlink.
type Table struct {
	mu util.MutexLocked

	stores  *Stores
	handles map[uint64]*Handle
}

// NewTable constructs an empty Table over stores.
func NewTable(stores *Stores) *Table {
	return &Table{stores: stores, handles: make(map[uint64]*Handle)}
}

// Get returns the Handle for inode index, creating and loading it on
// demand, and bumps its reference count. Every successful Get must be
// paired with exactly one Release (§5's open/release discipline).
func (t *Table) Get(index uint64) (*Handle, error) {
	unlock := t.mu.Locked()
	defer unlock()
	if h, ok := t.handles[index]; ok {
		h.refcount++
		return h, nil
	}
	raw, err := t.stores.Inode.Read(index)
	if err != nil {
		return nil, errno.Wrap(err, "inode: loading inode %d", index)
	}
	ino, err := wire.DecodeInode(raw)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		table:    t,
		index:    index,
		ino:      ino,
		refcount: 1,
		blocks:   make(map[uint64]*cachedBlock),
	}
	t.handles[index] = h
	return h, nil
}

// newHandleLocked installs a freshly created inode (already persisted
// by CreateInode) into the table with refcount 1. Caller holds t.mu.
func (t *Table) newHandleLocked(index uint64, ino *wire.Inode) *Handle {
	h := &Handle{
		table:    t,
		index:    index,
		ino:      ino,
		refcount: 1,
		blocks:   make(map[uint64]*cachedBlock),
	}
	t.handles[index] = h
	return h
}

// CreateInode allocates a new inode record via the Inode ChunkStore
// and returns a Handle for it with refcount 1 already registered.
func (t *Table) CreateInode(ino *wire.Inode) (*Handle, error) {
	index, err := t.stores.Inode.Add(wire.EncodeInode(ino))
	if err != nil {
		return nil, errno.Wrap(err, "inode: allocating new inode")
	}
	unlock := t.mu.Locked()
	defer unlock()
	return t.newHandleLocked(index, ino), nil
}

// Release drops one reference to h. When the count reaches zero, h is
// evicted from the table; then, if its deferred-unlink flag was set,
// removeNow runs, exactly once, and otherwise h is flushed (§4.4.3,
// §5 "release is the only site that may run deferred unlink").
func (t *Table) Release(h *Handle) error {
	unlock := t.mu.Locked()
	h.refcount--
	if h.refcount > 0 {
		unlock()
		return nil
	}
	delete(t.handles, h.index)
	deferred := h.deferredUnlink
	unlock()

	if deferred {
		return h.removeNow()
	}
	return h.flush()
}
