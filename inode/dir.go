package inode

import (
	"sort"

	"sixfs/errno"
	"sixfs/wire"
)

// DirentEntry is one resolved directory slot: its slot number, the
// dirent-store chunk index at that slot, and the decoded record.
type DirentEntry struct {
	Slot       uint64
	ChunkIndex uint64
	Dirent     wire.Dirent
}

// loadDirentsLocked returns the directory's dirents in slot order,
// decrypting/decoding on first use and caching the result on h until
// the next mutation (§9 DESIGN NOTES: directory dirent cache). Caller
// holds h.lock (shared is sufficient for a read-only caller, but
// mutators call this under the exclusive lock they already hold).
func (h *Handle) loadDirentsLocked() ([]DirentEntry, error) {
	if h.direntsValid {
		return h.dirents, nil
	}
	count := h.slotCountLocked()
	out := make([]DirentEntry, count)
	for i := uint64(0); i < count; i++ {
		chunkIndex, err := h.getSlotLocked(i)
		if err != nil {
			return nil, err
		}
		if chunkIndex == wire.Invalid {
			return nil, errno.Wrap(errno.EIO, "directory slot %d is unexpectedly sparse", i)
		}
		raw, err := h.table.stores.Dirent.Read(chunkIndex)
		if err != nil {
			return nil, err
		}
		d, err := wire.DecodeDirent(raw)
		if err != nil {
			return nil, err
		}
		out[i] = DirentEntry{Slot: i, ChunkIndex: chunkIndex, Dirent: *d}
	}
	h.dirents = out
	h.direntsValid = true
	return out, nil
}

// findDirentLocked performs the binary search of §4.4.3: on a miss it
// reports the slot at which name would be inserted, satisfying the
// insertion-point contract mkdirent/rmdirent/rename rely on.
func (h *Handle) findDirentLocked(name string) (entry *DirentEntry, insertAt uint64, err error) {
	entries, err := h.loadDirentsLocked()
	if err != nil {
		return nil, 0, err
	}
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Dirent.Name >= name
	})
	if i < len(entries) && entries[i].Dirent.Name == name {
		e := entries[i]
		return &e, uint64(i), nil
	}
	return nil, uint64(i), nil
}

// FindDirent is the exported, locked form of findDirentLocked.
func (h *Handle) FindDirent(name string) (*DirentEntry, uint64, error) {
	unlock := h.lock.RLocked()
	defer unlock()
	return h.findDirentLocked(name)
}

// ListDirents returns every entry in slot order, for readdir.
func (h *Handle) ListDirents() ([]DirentEntry, error) {
	unlock := h.lock.RLocked()
	defer unlock()
	return h.loadDirentsLocked()
}

// Mkdirent implements §4.4.3: validates the name, requires the slot
// be free, either wires up an existing inode (hard link) or creates a
// fresh one via createInode, writes a new Dirent record, and inserts
// it at the discovered slot. Returns the child's inode index.
func (h *Handle) Mkdirent(name string, existingInode uint64, createInode func() (*Handle, error)) (uint64, error) {
	unlock := h.lock.Locked()
	defer unlock()

	if h.ino.Type() != wire.TypeDirectory {
		return 0, errno.Wrap(errno.ENOTDIR, "mkdirent on non-directory inode %d", h.index)
	}
	if len(name) == 0 || len(name) > wire.MaxNameLen {
		return 0, errno.Wrap(errno.ENAMETOOLONG, "mkdirent: name %q too long", name)
	}
	if h.ino.Size >= MaxSlots {
		return 0, errno.Wrap(errno.ENOSPC, "mkdirent: directory %d is full", h.index)
	}
	existingEntry, insertAt, err := h.findDirentLocked(name)
	if err != nil {
		return 0, err
	}
	if existingEntry != nil {
		return 0, errno.Wrap(errno.EEXIST, "mkdirent: %q already exists", name)
	}

	var childIndex uint64
	var child *Handle
	if existingInode != wire.Invalid {
		child, err = h.table.Get(existingInode)
		if err != nil {
			return 0, err
		}
		childIndex = existingInode
		unlockChild := child.lock.Locked()
		child.ino.Nlink++
		if child.ino.Type() == wire.TypeDirectory {
			h.ino.Nlink++
		}
		child.markInoDirty()
		werr := child.writeInodeLocked()
		unlockChild()
		if werr != nil {
			h.table.Release(child)
			return 0, werr
		}
	} else {
		child, err = createInode()
		if err != nil {
			return 0, err
		}
		childIndex = child.index
		unlockChild := child.lock.Locked()
		if child.ino.Type() == wire.TypeDirectory {
			child.ino.Nlink = 2
			h.ino.Nlink++
		} else {
			child.ino.Nlink = 1
		}
		child.markInoDirty()
		werr := child.writeInodeLocked()
		unlockChild()
		if werr != nil {
			h.table.Release(child)
			return 0, werr
		}
	}
	if err := h.table.Release(child); err != nil {
		return 0, err
	}

	direntIndex, err := h.table.stores.Dirent.Add(wire.EncodeDirent(&wire.Dirent{Name: name, Inode: childIndex}))
	if err != nil {
		return 0, err
	}
	if err := h.insertSlotLocked(insertAt, h.ino.Size, direntIndex); err != nil {
		return 0, err
	}
	h.ino.Size++
	h.markInoDirty()
	h.touchTimes(false, true, true)
	h.invalidateDirentCache()

	if err := h.flushBlockCacheLocked(); err != nil {
		return 0, err
	}
	if err := h.writeInodeLocked(); err != nil {
		return 0, err
	}
	return childIndex, nil
}

// Rmdirent implements §4.4.3: locates name, lets checker veto (e.g.
// ENOTEMPTY/EISDIR/ENOTDIR), then removes the slot and adjusts nlink
// on both the parent and the target, arranging deferred unlink if the
// target's nlink reaches zero.
func (h *Handle) Rmdirent(name string, checker func(target *Handle) error) error {
	unlock := h.lock.Locked()
	defer unlock()

	if h.ino.Type() != wire.TypeDirectory {
		return errno.Wrap(errno.ENOTDIR, "rmdirent on non-directory inode %d", h.index)
	}
	entry, _, err := h.findDirentLocked(name)
	if err != nil {
		return err
	}
	if entry == nil {
		return errno.Wrap(errno.ENOENT, "rmdirent: %q not found", name)
	}

	target, err := h.table.Get(entry.Dirent.Inode)
	if err != nil {
		return err
	}
	if err := checker(target); err != nil {
		h.table.Release(target)
		return err
	}

	if err := h.removeSlotLocked(entry.Slot, true); err != nil {
		h.table.Release(target)
		return err
	}
	h.ino.Size--
	h.markInoDirty()
	h.touchTimes(false, true, true)
	h.invalidateDirentCache()

	unlockTarget := target.lock.Locked()
	if target.ino.Nlink > 0 {
		target.ino.Nlink--
	}
	if target.ino.Type() == wire.TypeDirectory {
		h.ino.Nlink--
		// A directory's own "." entry is a second link to itself
		// (dir.go's Mkdirent sets Nlink=2 on creation); losing its
		// parent-entry link drops both at once.
		if target.ino.Nlink > 0 {
			target.ino.Nlink--
		}
	}
	target.markInoDirty()
	werr := target.writeInodeLocked()
	nlinkZero := target.ino.Nlink == 0
	unlockTarget()
	if werr != nil {
		h.table.Release(target)
		return werr
	}
	if nlinkZero {
		target.SetDeferredUnlink()
	}
	if err := h.table.Release(target); err != nil {
		return err
	}

	if err := h.flushBlockCacheLocked(); err != nil {
		return err
	}
	return h.writeInodeLocked()
}

// SetDirentInode overwrites the Inode field of the dirent record at
// slot in place, leaving the name and the record's chunk index
// unchanged. Used by Exchange rename (§4.4.6) to swap which inode two
// existing names point to without touching either directory's slot
// structure.
func (h *Handle) SetDirentInode(slot, newInode uint64) error {
	unlock := h.lock.Locked()
	defer unlock()
	chunkIndex, err := h.getSlotLocked(slot)
	if err != nil {
		return err
	}
	if chunkIndex == wire.Invalid {
		return errno.Wrap(errno.EIO, "setdirentinode: slot %d is sparse", slot)
	}
	raw, err := h.table.stores.Dirent.Read(chunkIndex)
	if err != nil {
		return err
	}
	d, err := wire.DecodeDirent(raw)
	if err != nil {
		return err
	}
	d.Inode = newInode
	if err := h.table.stores.Dirent.Write(chunkIndex, wire.EncodeDirent(d)); err != nil {
		return err
	}
	h.invalidateDirentCache()
	h.touchTimes(false, true, true)
	return h.writeInodeLocked()
}

// AddDirentRecord allocates a new dirent record in the Dirent
// ChunkStore without inserting it into h's slot index yet, used by
// rename (§4.4.6) to preallocate the moved entry's replacement record
// ahead of the slot-level RenameHelperAdd.
func (h *Handle) AddDirentRecord(name string, inodeIndex uint64) (uint64, error) {
	return h.table.stores.Dirent.Add(wire.EncodeDirent(&wire.Dirent{Name: name, Inode: inodeIndex}))
}

// AdjustNlink adds delta to the inode's link count, used by rename
// when a moved directory's ".."-equivalent bookkeeping shifts between
// two different parent directories (§4.4.6).
func (h *Handle) AdjustNlink(delta int32) error {
	unlock := h.lock.Locked()
	defer unlock()
	if delta < 0 && h.ino.Nlink < uint32(-delta) {
		h.ino.Nlink = 0
	} else {
		h.ino.Nlink = uint32(int64(h.ino.Nlink) + int64(delta))
	}
	h.markInoDirty()
	h.touchTimes(false, true, false)
	return h.writeInodeLocked()
}

// RenameHelperRemoveFreeing implements §4.4.6's overwrite case: remove
// slot from h's directory and free the dirent payload it pointed to,
// because the destination name reused a different existing record
// instead (the source's own record is now garbage).
func (h *Handle) RenameHelperRemoveFreeing(slot uint64) error {
	unlock := h.lock.Locked()
	defer unlock()
	if err := h.removeSlotLocked(slot, true); err != nil {
		return err
	}
	if h.ino.Size > 0 {
		h.ino.Size--
	}
	h.markInoDirty()
	h.touchTimes(false, true, true)
	h.invalidateDirentCache()
	if err := h.flushBlockCacheLocked(); err != nil {
		return err
	}
	return h.writeInodeLocked()
}

// RenameHelperAdd implements §4.4.6: insert_slot at slot, bump size,
// write inode.
func (h *Handle) RenameHelperAdd(slot, direntIndex uint64) error {
	unlock := h.lock.Locked()
	defer unlock()
	if err := h.insertSlotLocked(slot, h.ino.Size, direntIndex); err != nil {
		return err
	}
	h.ino.Size++
	h.markInoDirty()
	h.touchTimes(false, true, true)
	h.invalidateDirentCache()
	if err := h.flushBlockCacheLocked(); err != nil {
		return err
	}
	return h.writeInodeLocked()
}

