package inode

import (
	"time"

	"sixfs/errno"
	"sixfs/util"
	"sixfs/wire"
)

// Handle is an in-memory, reference-counted accessor to one inode
// (§4.4). It owns the five-indirection-tree slot index over a
// map-keyed pointer-block cache and, for directories, an optional
// cache of decrypted dirents.
type Handle struct {
	table *Table
	index uint64

	lock util.RWLocked

	refcount       int // protected by table.mu
	deferredUnlink bool

	ino      *wire.Inode
	inoDirty bool

	// blocks caches decoded indirection-pointer blocks (the [N]uint64
	// arrays read via slot_to_tree_indices traversal), keyed by their
	// block-store chunk index. Regular file *data* blocks are not
	// cached here; see file.go.
	blocks map[uint64]*cachedBlock

	// direntsValid/dirents implement the directory dirent cache of
	// §9 DESIGN NOTES ("binary search over encrypted entries"):
	// invalidated by any insert_slot/remove_slot/set_slot against
	// this handle's tree.
	direntsValid bool
	dirents      []DirentEntry
}

type cachedBlock struct {
	data  [wire.N]uint64
	dirty bool
}

// Index returns the inode's chunk index in the Inode ChunkStore.
func (h *Handle) Index() uint64 { return h.index }

// Inode returns a copy of the cached inode record, taken under the
// handle's read lock so a concurrent mutator (which always holds the
// lock exclusively) never hands back a torn read.
func (h *Handle) Inode() wire.Inode {
	unlock := h.lock.RLocked()
	defer unlock()
	return *h.ino
}

// Lock exposes the handle's exclusive lock to callers (e.g. the
// Filesystem layer) that need to hold it across more than one Handle
// call, such as Chmod/Chown/Utimens bracketing a single field update.
func (h *Handle) Lock() (unlock func()) { return h.lock.Locked() }

func (h *Handle) markInoDirty() { h.inoDirty = true }

// SetSizeField overwrites inode.size directly, bypassing slot
// bookkeeping. Used only for symlink targets, whose byte length is
// meaningful for readlink even though slot_count(symlink) is always 0
// (§3) — the size field is otherwise unused by the slot index for
// that type.
func (h *Handle) SetSizeField(n uint64) error {
	unlock := h.lock.Locked()
	defer unlock()
	h.ino.Size = n
	h.markInoDirty()
	return h.writeInodeLocked()
}

// SetMode overwrites the permission bits, preserving the type nibble.
// Caller holds h.lock exclusively.
func (h *Handle) SetMode(mode uint16) error {
	h.ino.SetTypeMode(h.ino.Type(), mode)
	h.markInoDirty()
	h.touchTimes(false, true, false)
	return h.writeInodeLocked()
}

// SetOwner overwrites uid/gid. Caller holds h.lock exclusively.
func (h *Handle) SetOwner(uid, gid uint32) error {
	h.ino.Uid, h.ino.Gid = uid, gid
	h.markInoDirty()
	h.touchTimes(false, true, false)
	return h.writeInodeLocked()
}

// SetTimes overwrites atime/mtime from the given values; a nil
// pointer leaves that field unchanged. ctime always advances, per
// POSIX utimensat semantics. Caller holds h.lock exclusively.
func (h *Handle) SetTimes(atime, mtime *time.Time) error {
	if atime != nil {
		h.ino.AtimeSec, h.ino.AtimeNsec = uint64(atime.Unix()), uint32(atime.Nanosecond())
	}
	if mtime != nil {
		h.ino.MtimeSec, h.ino.MtimeNsec = uint64(mtime.Unix()), uint32(mtime.Nanosecond())
	}
	h.markInoDirty()
	h.touchTimes(false, true, false)
	return h.writeInodeLocked()
}

func (h *Handle) invalidateDirentCache() {
	h.direntsValid = false
	h.dirents = nil
}

// writeInodeLocked persists the cached inode record if dirty. Caller
// holds h.lock.
func (h *Handle) writeInodeLocked() error {
	if !h.inoDirty {
		return nil
	}
	if err := h.table.stores.Inode.Write(h.index, wire.EncodeInode(h.ino)); err != nil {
		return errno.Wrap(err, "inode: writing inode %d", h.index)
	}
	h.inoDirty = false
	return nil
}

// flushBlockCacheLocked writes back every dirty cached pointer block.
// Caller holds h.lock.
func (h *Handle) flushBlockCacheLocked() error {
	for idx, cb := range h.blocks {
		if !cb.dirty {
			continue
		}
		if err := h.table.stores.Block.Write(idx, wire.EncodeSlotTable(cb.data)); err != nil {
			return errno.Wrap(err, "inode: writing pointer block %d", idx)
		}
		cb.dirty = false
	}
	return nil
}

// flush is called on release: persists inode + pointer-block cache.
func (h *Handle) flush() error {
	unlock := h.lock.Locked()
	defer unlock()
	if err := h.flushBlockCacheLocked(); err != nil {
		return err
	}
	return h.writeInodeLocked()
}

// SetDeferredUnlink marks h so that removeNow runs when its last
// reference is released, rather than immediately (§4.4.3 deferred
// unlink: a handle still open across an unlink keeps reading the
// pre-unlink bytes until closed).
func (h *Handle) SetDeferredUnlink() {
	unlockTable := h.table.mu.Locked()
	h.deferredUnlink = true
	unlockTable()
}

// removeNow frees every block/dirent the inode still owns (its full
// slot range), its xattr block if any, and finally the inode record
// itself. Called exactly once, from Table.Release, when nlink has
// already reached zero and the last reference just dropped.
func (h *Handle) removeNow() error {
	unlock := h.lock.Locked()
	defer unlock()

	count := h.slotCountLocked()
	for count > 0 {
		count--
		if err := h.removeSlotLocked(count, true); err != nil {
			return err
		}
	}
	if h.ino.Type() == wire.TypeSymlink && h.ino.SlotTreeRoots[0] != wire.Invalid {
		if err := h.table.stores.Block.Remove(h.ino.SlotTreeRoots[0]); err != nil {
			return err
		}
		h.ino.SlotTreeRoots[0] = wire.Invalid
	}
	if h.ino.XattrBlock != wire.Invalid {
		if err := h.table.stores.Block.Remove(h.ino.XattrBlock); err != nil {
			return err
		}
		h.ino.XattrBlock = wire.Invalid
	}
	if err := h.table.stores.Inode.Remove(h.index); err != nil {
		return errno.Wrap(err, "inode: removing inode %d", h.index)
	}
	return nil
}

// touchTimes updates the requested timestamp fields to now.
func (h *Handle) touchTimes(atime, ctime, mtime bool) {
	now := timeNow()
	sec, nsec := uint64(now.Unix()), uint32(now.Nanosecond())
	if atime {
		h.ino.AtimeSec, h.ino.AtimeNsec = sec, nsec
	}
	if ctime {
		h.ino.CtimeSec, h.ino.CtimeNsec = sec, nsec
	}
	if mtime {
		h.ino.MtimeSec, h.ino.MtimeNsec = sec, nsec
	}
	h.markInoDirty()
}

// timeNow is a seam so tests could stub the clock; production always
// uses the wall clock.
var timeNow = time.Now

// maybeUpdateAtimeLocked implements relatime: atime is refreshed only
// if it is currently older than mtime/ctime or more than a day old
// (§1 non-goals: "atime updates stricter than relatime" is explicitly
// out of scope, i.e. relatime is the ceiling of what this does).
func (h *Handle) maybeUpdateAtimeLocked() {
	now := timeNow()
	atime := time.Unix(int64(h.ino.AtimeSec), int64(h.ino.AtimeNsec))
	mtime := time.Unix(int64(h.ino.MtimeSec), int64(h.ino.MtimeNsec))
	ctime := time.Unix(int64(h.ino.CtimeSec), int64(h.ino.CtimeNsec))
	if atime.Before(mtime) || atime.Before(ctime) || now.Sub(atime) > 24*time.Hour {
		h.touchTimes(true, false, false)
	}
}
