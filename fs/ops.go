// ops.go implements the path-based metadata and namespace operations
// of §4.5: mkdir, rmdir, mknod, unlink, symlink, readlink, link,
// chmod, chown, utimens, truncate, getattr.
package fs

import (
	"time"

	"sixfs/errno"
	"sixfs/inode"
	"sixfs/wire"
)

// Attr is the stat(2)-shaped attribute set returned by Getattr.
type Attr struct {
	Inode      uint64
	Type       wire.InodeType
	Mode       uint16
	Nlink      uint32
	Uid, Gid   uint32
	Rdev       uint64
	Size       uint64
	Atime      time.Time
	Ctime      time.Time
	Mtime      time.Time
}

func attrFromInode(index uint64, ino wire.Inode) Attr {
	return Attr{
		Inode: index,
		Type:  ino.Type(),
		Mode:  ino.Mode(),
		Nlink: ino.Nlink,
		Uid:   ino.Uid,
		Gid:   ino.Gid,
		Rdev:  ino.Rdev,
		Size:  ino.Size,
		Atime: time.Unix(int64(ino.AtimeSec), int64(ino.AtimeNsec)),
		Ctime: time.Unix(int64(ino.CtimeSec), int64(ino.CtimeNsec)),
		Mtime: time.Unix(int64(ino.MtimeSec), int64(ino.MtimeNsec)),
	}
}

// Getattr resolves path and returns its attributes.
func (f *Filesystem) Getattr(path string) (Attr, error) {
	unlock := f.lock.RLocked()
	defer unlock()

	h, err := f.resolve(path)
	if err != nil {
		return Attr{}, err
	}
	defer f.table.Release(h)
	return attrFromInode(h.Index(), h.Inode()), nil
}

// mkEntry is the shared body of mkdir/mknod/symlink: resolve the
// parent, build a fresh inode of the requested type, and wire it into
// the parent's directory via Mkdirent.
func (f *Filesystem) mkEntry(path string, t wire.InodeType, mode uint16, uid, gid uint32, rdev uint64) (Attr, error) {
	unlock := f.lock.Locked()
	defer unlock()

	if err := f.checkWritable(); err != nil {
		return Attr{}, err
	}
	parent, name, err := f.resolveParentAndName(path)
	if err != nil {
		return Attr{}, err
	}
	defer f.table.Release(parent)

	childIndex, err := parent.Mkdirent(name, wire.Invalid, func() (*inode.Handle, error) {
		return f.createInode(t, mode, uid, gid, rdev)
	})
	if err != nil {
		return Attr{}, err
	}
	child, err := f.table.Get(childIndex)
	if err != nil {
		return Attr{}, err
	}
	defer f.table.Release(child)
	return attrFromInode(child.Index(), child.Inode()), nil
}

// Mkdir implements §4.5 mkdir.
func (f *Filesystem) Mkdir(path string, mode uint16, uid, gid uint32) (Attr, error) {
	return f.mkEntry(path, wire.TypeDirectory, mode, uid, gid, 0)
}

// Mknod implements §4.5 mknod for device/FIFO/socket special files.
func (f *Filesystem) Mknod(path string, t wire.InodeType, mode uint16, uid, gid uint32, rdev uint64) (Attr, error) {
	if t == wire.TypeDirectory || t == wire.TypeSymlink {
		return Attr{}, errno.Wrap(errno.EINVAL, "mknod: use Mkdir/Symlink for type %v", t)
	}
	return f.mkEntry(path, t, mode, uid, gid, rdev)
}

// Create implements a regular-file create (the mknod(S_IFREG) case
// most callers reach through open(O_CREAT)).
func (f *Filesystem) Create(path string, mode uint16, uid, gid uint32) (Attr, error) {
	return f.mkEntry(path, wire.TypeRegular, mode, uid, gid, 0)
}

// Symlink implements §4.5 symlink: the target string is stored as the
// new inode's byte content (slot 0 of the block tree), and its length
// recorded via SetSizeField so Readlink/Getattr report it without
// reading back the block.
func (f *Filesystem) Symlink(path, target string, uid, gid uint32) (Attr, error) {
	unlock := f.lock.Locked()
	defer unlock()

	if err := f.checkWritable(); err != nil {
		return Attr{}, err
	}
	if len(target) > wire.BlockSize {
		return Attr{}, errno.Wrap(errno.ENAMETOOLONG, "symlink target too long: %d bytes", len(target))
	}
	parent, name, err := f.resolveParentAndName(path)
	if err != nil {
		return Attr{}, err
	}
	defer f.table.Release(parent)

	childIndex, err := parent.Mkdirent(name, wire.Invalid, func() (*inode.Handle, error) {
		return f.createInode(wire.TypeSymlink, 0777, uid, gid, 0)
	})
	if err != nil {
		return Attr{}, err
	}
	child, err := f.table.Get(childIndex)
	if err != nil {
		return Attr{}, err
	}
	defer f.table.Release(child)

	if len(target) > 0 {
		if _, err := child.WriteAt([]byte(target), 0, false); err != nil {
			return Attr{}, err
		}
	}
	if err := child.SetSizeField(uint64(len(target))); err != nil {
		return Attr{}, err
	}
	return attrFromInode(child.Index(), child.Inode()), nil
}

// Readlink implements §4.5 readlink.
func (f *Filesystem) Readlink(path string) (string, error) {
	unlock := f.lock.RLocked()
	defer unlock()

	h, err := f.resolve(path)
	if err != nil {
		return "", err
	}
	defer f.table.Release(h)
	if h.Inode().Type() != wire.TypeSymlink {
		return "", errno.Wrap(errno.EINVAL, "readlink: %q is not a symlink", path)
	}
	size := h.Inode().Size
	buf := make([]byte, size)
	if size > 0 {
		if _, err := h.ReadAt(buf, 0); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

// Link implements §4.5 link (hard link): directories may never be
// hard-linked (EPERM, matching every POSIX implementation's refusal
// to let `.`/`..` bookkeeping alias across parents).
func (f *Filesystem) Link(oldPath, newPath string) (Attr, error) {
	unlock := f.lock.Locked()
	defer unlock()

	if err := f.checkWritable(); err != nil {
		return Attr{}, err
	}
	target, err := f.resolve(oldPath)
	if err != nil {
		return Attr{}, err
	}
	defer f.table.Release(target)
	if target.Inode().Type() == wire.TypeDirectory {
		return Attr{}, errno.Wrap(errno.EPERM, "link: %q is a directory", oldPath)
	}

	parent, name, err := f.resolveParentAndName(newPath)
	if err != nil {
		return Attr{}, err
	}
	defer f.table.Release(parent)

	childIndex, err := parent.Mkdirent(name, target.Index(), nil)
	if err != nil {
		return Attr{}, err
	}
	linked, err := f.table.Get(childIndex)
	if err != nil {
		return Attr{}, err
	}
	defer f.table.Release(linked)
	return attrFromInode(linked.Index(), linked.Inode()), nil
}

// rmEntryChecker builds the Rmdirent veto used by both Rmdir and
// Unlink, rejecting the mismatched directory/non-directory case and,
// for Rmdir, a non-empty target.
func rmEntryChecker(wantDir bool) func(target *inode.Handle) error {
	return func(target *inode.Handle) error {
		isDir := target.Inode().Type() == wire.TypeDirectory
		if wantDir && !isDir {
			return errno.Wrap(errno.ENOTDIR, "rmdir: not a directory")
		}
		if !wantDir && isDir {
			return errno.Wrap(errno.EISDIR, "unlink: is a directory")
		}
		if wantDir {
			entries, err := target.ListDirents()
			if err != nil {
				return err
			}
			if len(entries) > 0 {
				return errno.Wrap(errno.ENOTEMPTY, "rmdir: directory not empty")
			}
		}
		return nil
	}
}

// Rmdir implements §4.5 rmdir.
func (f *Filesystem) Rmdir(path string) error {
	unlock := f.lock.Locked()
	defer unlock()
	if err := f.checkWritable(); err != nil {
		return err
	}
	parent, name, err := f.resolveParentAndName(path)
	if err != nil {
		return err
	}
	defer f.table.Release(parent)
	return parent.Rmdirent(name, rmEntryChecker(true))
}

// Unlink implements §4.5 unlink.
func (f *Filesystem) Unlink(path string) error {
	unlock := f.lock.Locked()
	defer unlock()
	if err := f.checkWritable(); err != nil {
		return err
	}
	parent, name, err := f.resolveParentAndName(path)
	if err != nil {
		return err
	}
	defer f.table.Release(parent)
	return parent.Rmdirent(name, rmEntryChecker(false))
}

// Chmod implements §4.5 chmod.
func (f *Filesystem) Chmod(path string, mode uint16) error {
	unlock := f.lock.RLocked()
	defer unlock()
	if err := f.checkWritable(); err != nil {
		return err
	}
	h, err := f.resolve(path)
	if err != nil {
		return err
	}
	defer f.table.Release(h)
	unlockH := h.Lock()
	defer unlockH()
	return h.SetMode(mode)
}

// Chown implements §4.5 chown. A -1-equivalent "leave unchanged"
// value is signaled by the caller passing the inode's current
// uid/gid; this layer always sets both fields it is given.
func (f *Filesystem) Chown(path string, uid, gid uint32) error {
	unlock := f.lock.RLocked()
	defer unlock()
	if err := f.checkWritable(); err != nil {
		return err
	}
	h, err := f.resolve(path)
	if err != nil {
		return err
	}
	defer f.table.Release(h)
	unlockH := h.Lock()
	defer unlockH()
	return h.SetOwner(uid, gid)
}

// Utimens implements §4.5 utimens. A nil pointer leaves that
// timestamp unchanged.
func (f *Filesystem) Utimens(path string, atime, mtime *time.Time) error {
	unlock := f.lock.RLocked()
	defer unlock()
	if err := f.checkWritable(); err != nil {
		return err
	}
	h, err := f.resolve(path)
	if err != nil {
		return err
	}
	defer f.table.Release(h)
	unlockH := h.Lock()
	defer unlockH()
	return h.SetTimes(atime, mtime)
}

// Truncate implements §4.5 truncate, delegating to InodeHandle's
// 5-step slot-count algorithm (§4.4.2).
func (f *Filesystem) Truncate(path string, length uint64) error {
	unlock := f.lock.Locked()
	defer unlock()
	if err := f.checkWritable(); err != nil {
		return err
	}
	h, err := f.resolve(path)
	if err != nil {
		return err
	}
	defer f.table.Release(h)
	if h.Inode().Type() != wire.TypeRegular {
		return errno.Wrap(errno.EINVAL, "truncate: %q is not a regular file", path)
	}
	return h.Truncate(length)
}
