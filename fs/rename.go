// rename.go implements §4.4.6/§4.5's three rename modes on top of
// InodeHandle's RenameHelperAdd, RenameHelperRemoveFreeing and
// SetDirentInode primitives. §4.5
// requires an attempted rollback on partial failure, escalating to
// the emergency flag only if the rollback itself cannot complete.
package fs

import (
	"sixfs/errno"
	"sixfs/inode"
	"sixfs/wire"
)

// RenameMode selects one of the three behaviors POSIX renameat2(2)
// exposes (§4.4.6).
type RenameMode int

const (
	RenameNormal    RenameMode = iota // may silently replace an existing destination
	RenameNoReplace                   // fail with EEXIST if destination exists
	RenameExchange                    // atomically swap two existing names
)

// Rename implements §4.5 rename in all three modes.
func (f *Filesystem) Rename(oldPath, newPath string, mode RenameMode) error {
	unlock := f.lock.Locked()
	defer unlock()
	if err := f.checkWritable(); err != nil {
		return err
	}

	oldParent, oldName, err := f.resolveParentAndName(oldPath)
	if err != nil {
		return err
	}
	defer f.table.Release(oldParent)
	newParent, newName, err := f.resolveParentAndName(newPath)
	if err != nil {
		return err
	}
	defer f.table.Release(newParent)

	oldEntry, _, err := oldParent.FindDirent(oldName)
	if err != nil {
		return err
	}
	if oldEntry == nil {
		return errno.Wrap(errno.ENOENT, "rename: %q not found", oldPath)
	}
	newEntry, insertAt, err := newParent.FindDirent(newName)
	if err != nil {
		return err
	}

	if oldParent.Index() == newParent.Index() && oldName == newName {
		return nil
	}

	switch mode {
	case RenameExchange:
		if oldEntry == nil || newEntry == nil {
			return errno.Wrap(errno.ENOENT, "rename exchange: both names must exist")
		}
		return f.renameExchange(oldParent, oldEntry, newParent, newEntry)
	case RenameNoReplace:
		if newEntry != nil {
			return errno.Wrap(errno.EEXIST, "rename: %q already exists", newPath)
		}
		return f.renameMove(oldParent, oldEntry, newParent, newName, insertAt)
	default: // RenameNormal
		if newEntry != nil {
			return f.renameReplace(oldParent, oldEntry, newParent, newEntry)
		}
		return f.renameMove(oldParent, oldEntry, newParent, newName, insertAt)
	}
}

// renameMove relocates oldEntry to a fresh dirent record named newName
// under newParent, freeing the source's now-redundant record. Rollback
// on failure: if the add succeeds but the remove fails, attempt to
// undo the add; escalate to the emergency flag only if that also fails.
func (f *Filesystem) renameMove(oldParent *inode.Handle, oldEntry *inode.DirentEntry, newParent *inode.Handle, newName string, insertAt uint64) error {
	if oldParent.Index() != newParent.Index() {
		moved, err := f.table.Get(oldEntry.Dirent.Inode)
		if err != nil {
			return err
		}
		isDir := moved.Inode().Type() == wire.TypeDirectory
		relErr := f.table.Release(moved)
		if relErr != nil {
			return relErr
		}
		if isDir {
			if err := newParent.AdjustNlink(1); err != nil {
				return err
			}
		}
	}

	newDirentIndex, err := newParent.AddDirentRecord(newName, oldEntry.Dirent.Inode)
	if err != nil {
		return err
	}
	if err := newParent.RenameHelperAdd(insertAt, newDirentIndex); err != nil {
		return err
	}

	// The just-inserted slot may have shifted oldEntry's own slot when
	// the two directories are the same; re-resolve by name to be safe.
	oldStillThere, oldSlot, err := oldParent.FindDirent(oldEntry.Dirent.Name)
	if err != nil || oldStillThere == nil {
		f.attemptRollbackOrEmergency(func() error {
			_, slot, ferr := newParent.FindDirent(newName)
			if ferr != nil {
				return ferr
			}
			return newParent.RenameHelperRemoveFreeing(slot)
		})
		if err != nil {
			return err
		}
		return errno.Wrap(errno.EIO, "rename: source entry vanished mid-move")
	}

	if err := oldParent.RenameHelperRemoveFreeing(oldSlot); err != nil {
		f.attemptRollbackOrEmergency(func() error {
			_, slot, ferr := newParent.FindDirent(newName)
			if ferr != nil {
				return ferr
			}
			return newParent.RenameHelperRemoveFreeing(slot)
		})
		return err
	}

	if oldParent.Index() != newParent.Index() {
		moved, gerr := f.table.Get(oldEntry.Dirent.Inode)
		if gerr == nil {
			if moved.Inode().Type() == wire.TypeDirectory {
				_ = oldParent.AdjustNlink(-1)
			}
			f.table.Release(moved)
		}
	}
	return nil
}

// renameReplace overwrites an existing destination: the destination
// name keeps its own dirent record (and slot position) but its Inode
// field is repointed at the source inode; the previous destination
// inode's link count drops as if unlinked, and the source's own
// now-redundant dirent record is freed.
func (f *Filesystem) renameReplace(oldParent *inode.Handle, oldEntry *inode.DirentEntry, newParent *inode.Handle, newEntry *inode.DirentEntry) error {
	target, err := f.table.Get(newEntry.Dirent.Inode)
	if err != nil {
		return err
	}
	source, err := f.table.Get(oldEntry.Dirent.Inode)
	if err != nil {
		f.table.Release(target)
		return err
	}
	targetIsDir := target.Inode().Type() == wire.TypeDirectory
	sourceIsDir := source.Inode().Type() == wire.TypeDirectory
	if targetIsDir != sourceIsDir {
		f.table.Release(target)
		f.table.Release(source)
		if targetIsDir {
			return errno.Wrap(errno.EISDIR, "rename: destination is a directory")
		}
		return errno.Wrap(errno.ENOTDIR, "rename: destination is not a directory")
	}
	if targetIsDir {
		entries, lerr := target.ListDirents()
		if lerr != nil {
			f.table.Release(target)
			f.table.Release(source)
			return lerr
		}
		if len(entries) > 0 {
			f.table.Release(target)
			f.table.Release(source)
			return errno.Wrap(errno.ENOTEMPTY, "rename: destination directory not empty")
		}
	}

	if err := newParent.SetDirentInode(newEntry.Slot, oldEntry.Dirent.Inode); err != nil {
		f.table.Release(target)
		f.table.Release(source)
		return err
	}

	nlinkZero, err := f.dropOneLink(target, targetIsDir, newParent)
	f.table.Release(target)
	if err != nil {
		f.attemptRollbackOrEmergency(func() error {
			return newParent.SetDirentInode(newEntry.Slot, newEntry.Dirent.Inode)
		})
		f.table.Release(source)
		return err
	}
	if nlinkZero {
		targetAgain, gerr := f.table.Get(newEntry.Dirent.Inode)
		if gerr == nil {
			targetAgain.SetDeferredUnlink()
			f.table.Release(targetAgain)
		}
	}

	if sourceIsDir && oldParent.Index() != newParent.Index() {
		if err := newParent.AdjustNlink(1); err != nil {
			f.table.Release(source)
			return err
		}
	}
	f.table.Release(source)

	if err := oldParent.RenameHelperRemoveFreeing(oldEntry.Slot); err != nil {
		f.attemptRollbackOrEmergency(func() error { return nil })
		return err
	}
	if sourceIsDir && oldParent.Index() != newParent.Index() {
		_ = oldParent.AdjustNlink(-1)
	}
	return nil
}

// dropOneLink decrements target's nlink for the lost parent-entry
// link and, if target is a directory, a second time for the lost "."
// self-link (directories are created with Nlink=2, one per link), plus
// parent's nlink for the lost ".."-equivalent, returning whether
// target's nlink reached zero.
func (f *Filesystem) dropOneLink(target *inode.Handle, targetIsDir bool, parent *inode.Handle) (bool, error) {
	if err := target.AdjustNlink(-1); err != nil {
		return false, err
	}
	if targetIsDir {
		if err := parent.AdjustNlink(-1); err != nil {
			return false, err
		}
		if target.Inode().Nlink > 0 {
			if err := target.AdjustNlink(-1); err != nil {
				return false, err
			}
		}
	}
	return target.Inode().Nlink == 0, nil
}

// renameExchange swaps the Inode field of two existing dirent records
// in place, leaving both directories' slot structure untouched.
func (f *Filesystem) renameExchange(oldParent *inode.Handle, oldEntry *inode.DirentEntry, newParent *inode.Handle, newEntry *inode.DirentEntry) error {
	oldIsDir, newIsDir, err := f.bothAreDirs(oldEntry.Dirent.Inode, newEntry.Dirent.Inode)
	if err != nil {
		return err
	}

	if err := oldParent.SetDirentInode(oldEntry.Slot, newEntry.Dirent.Inode); err != nil {
		return err
	}
	if err := newParent.SetDirentInode(newEntry.Slot, oldEntry.Dirent.Inode); err != nil {
		f.attemptRollbackOrEmergency(func() error {
			return oldParent.SetDirentInode(oldEntry.Slot, oldEntry.Dirent.Inode)
		})
		return err
	}

	if oldParent.Index() != newParent.Index() && oldIsDir != newIsDir {
		if oldIsDir {
			_ = oldParent.AdjustNlink(-1)
			_ = newParent.AdjustNlink(1)
		} else {
			_ = oldParent.AdjustNlink(1)
			_ = newParent.AdjustNlink(-1)
		}
	}
	return nil
}

func (f *Filesystem) bothAreDirs(a, b uint64) (aIsDir, bIsDir bool, err error) {
	ha, err := f.table.Get(a)
	if err != nil {
		return false, false, err
	}
	aIsDir = ha.Inode().Type() == wire.TypeDirectory
	if relErr := f.table.Release(ha); relErr != nil {
		return false, false, relErr
	}
	hb, err := f.table.Get(b)
	if err != nil {
		return false, false, err
	}
	bIsDir = hb.Inode().Type() == wire.TypeDirectory
	if relErr := f.table.Release(hb); relErr != nil {
		return false, false, relErr
	}
	return aIsDir, bIsDir, nil
}

// attemptRollbackOrEmergency runs undo and, if it too fails, raises
// the sticky emergency flag per §7/§9's "if rollback itself fails,
// raise the emergency flag" rule.
func (f *Filesystem) attemptRollbackOrEmergency(undo func() error) {
	if err := undo(); err != nil {
		f.raiseEmergency(EmergencySystemFailure)
	}
}
