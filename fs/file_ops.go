// file_ops.go implements §4.5's file-handle table: open/close/read/
// write/opendir/closedir/readdir/readdir_plus/fallocate/lseek, plus
// the path-based xattr wrappers. Each open assigns a monotonically
// increasing handle id backed by the already-reference-counted
// InodeHandle; Close drops exactly the one reference Open took.
package fs

import (
	"sixfs/errno"
	"sixfs/inode"
	"sixfs/wire"
)

// DirEntry is one entry returned by Readdir/ReaddirPlus.
type DirEntry struct {
	Name  string
	Inode uint64
	Attr  *Attr // non-nil only from ReaddirPlus
}

func (f *Filesystem) registerHandle(of *openFile) uint64 {
	unlock := f.fhLock.Locked()
	defer unlock()
	f.fhNext++
	fh := f.fhNext
	f.fh[fh] = of
	return fh
}

func (f *Filesystem) lookupHandle(fh uint64) (*openFile, error) {
	unlock := f.fhLock.Locked()
	defer unlock()
	of, ok := f.fh[fh]
	if !ok {
		return nil, errno.Wrap(errno.EBADF, "no open file handle %d", fh)
	}
	return of, nil
}

func (f *Filesystem) unregisterHandle(fh uint64) (*openFile, error) {
	unlock := f.fhLock.Locked()
	defer unlock()
	of, ok := f.fh[fh]
	if !ok {
		return nil, errno.Wrap(errno.EBADF, "no open file handle %d", fh)
	}
	delete(f.fh, fh)
	return of, nil
}

// Open resolves path and returns a file handle id over it. append
// causes subsequent Write calls to ignore their offset argument and
// write at the current end of file (O_APPEND).
func (f *Filesystem) Open(path string, appendMode bool) (uint64, Attr, error) {
	// Exclusive, not shared: a concurrent unlink-on-close must be
	// serialized against a fresh open of the same path (§5).
	unlock := f.lock.Locked()
	defer unlock()

	h, err := f.resolve(path)
	if err != nil {
		return 0, Attr{}, err
	}
	if h.Inode().Type() == wire.TypeDirectory {
		f.table.Release(h)
		return 0, Attr{}, errno.Wrap(errno.EISDIR, "open: %q is a directory", path)
	}
	fh := f.registerHandle(&openFile{handle: h, append: appendMode})
	return fh, attrFromInode(h.Index(), h.Inode()), nil
}

// Close releases the InodeHandle reference an Open/Opendir took. Takes
// the structure lock exclusively (§5): Release may run a deferred
// unlink's removeNow, which frees slots across all three ChunkStores
// and must be serialized against concurrent namespace mutation.
func (f *Filesystem) Close(fh uint64) error {
	unlock := f.lock.Locked()
	defer unlock()

	of, err := f.unregisterHandle(fh)
	if err != nil {
		return err
	}
	return f.table.Release(of.handle)
}

// Read implements pread.
func (f *Filesystem) Read(fh uint64, buf []byte, offset uint64) (int, error) {
	of, err := f.lookupHandle(fh)
	if err != nil {
		return 0, err
	}
	if of.isDir {
		return 0, errno.Wrap(errno.EISDIR, "read: handle %d is a directory", fh)
	}
	return of.handle.ReadAt(buf, offset)
}

// Write implements pwrite.
func (f *Filesystem) Write(fh uint64, buf []byte, offset uint64) (int, error) {
	of, err := f.lookupHandle(fh)
	if err != nil {
		return 0, err
	}
	if of.isDir {
		return 0, errno.Wrap(errno.EISDIR, "write: handle %d is a directory", fh)
	}
	if err := f.checkWritable(); err != nil {
		return 0, err
	}
	return of.handle.WriteAt(buf, offset, of.append)
}

// Fallocate implements §4.4.5's fallocate over an open handle.
func (f *Filesystem) Fallocate(fh uint64, offset, length uint64, mode inode.FallocateMode, keepSize bool) error {
	of, err := f.lookupHandle(fh)
	if err != nil {
		return err
	}
	if of.isDir {
		return errno.Wrap(errno.EISDIR, "fallocate: handle %d is a directory", fh)
	}
	if err := f.checkWritable(); err != nil {
		return err
	}
	return of.handle.Fallocate(offset, length, mode, keepSize)
}

// Lseek implements SEEK_DATA/SEEK_HOLE over an open handle.
func (f *Filesystem) Lseek(fh uint64, offset uint64, whence inode.Whence) (uint64, error) {
	of, err := f.lookupHandle(fh)
	if err != nil {
		return 0, err
	}
	if of.isDir {
		return 0, errno.Wrap(errno.EISDIR, "lseek: handle %d is a directory", fh)
	}
	return of.handle.Lseek(offset, whence)
}

// Opendir resolves path (must be a directory) and returns a handle id.
func (f *Filesystem) Opendir(path string) (uint64, error) {
	// Exclusive, matching Open (§5).
	unlock := f.lock.Locked()
	defer unlock()

	h, err := f.resolve(path)
	if err != nil {
		return 0, err
	}
	if h.Inode().Type() != wire.TypeDirectory {
		f.table.Release(h)
		return 0, errno.Wrap(errno.ENOTDIR, "opendir: %q is not a directory", path)
	}
	fh := f.registerHandle(&openFile{handle: h, isDir: true})
	return fh, nil
}

// Closedir is an alias of Close kept for symmetry with Opendir.
func (f *Filesystem) Closedir(fh uint64) error { return f.Close(fh) }

// Readdir lists the directory's entries in slot order.
func (f *Filesystem) Readdir(fh uint64) ([]DirEntry, error) {
	of, err := f.lookupHandle(fh)
	if err != nil {
		return nil, err
	}
	if !of.isDir {
		return nil, errno.Wrap(errno.ENOTDIR, "readdir: handle %d is not a directory", fh)
	}
	entries, err := of.handle.ListDirents()
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, len(entries))
	for i, e := range entries {
		out[i] = DirEntry{Name: e.Dirent.Name, Inode: e.Dirent.Inode}
	}
	return out, nil
}

// ReaddirPlus lists entries together with each child's attributes,
// avoiding a separate Getattr round trip per entry (§4.5).
func (f *Filesystem) ReaddirPlus(fh uint64) ([]DirEntry, error) {
	of, err := f.lookupHandle(fh)
	if err != nil {
		return nil, err
	}
	if !of.isDir {
		return nil, errno.Wrap(errno.ENOTDIR, "readdirplus: handle %d is not a directory", fh)
	}
	entries, err := of.handle.ListDirents()
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, len(entries))
	for i, e := range entries {
		child, err := f.table.Get(e.Dirent.Inode)
		if err != nil {
			return nil, err
		}
		attr := attrFromInode(child.Index(), child.Inode())
		relErr := f.table.Release(child)
		if relErr != nil {
			return nil, relErr
		}
		out[i] = DirEntry{Name: e.Dirent.Name, Inode: e.Dirent.Inode, Attr: &attr}
	}
	return out, nil
}

// XattrList/XattrGet/XattrSet/XattrRemove are path-based wrappers
// around InodeHandle's xattr implementation (§4.4.4).

func (f *Filesystem) XattrList(path string, buf []byte) (int, error) {
	unlock := f.lock.RLocked()
	defer unlock()
	h, err := f.resolve(path)
	if err != nil {
		return 0, err
	}
	defer f.table.Release(h)
	return h.XattrList(buf)
}

func (f *Filesystem) XattrGet(path, name string, buf []byte) (int, error) {
	unlock := f.lock.RLocked()
	defer unlock()
	h, err := f.resolve(path)
	if err != nil {
		return 0, err
	}
	defer f.table.Release(h)
	return h.XattrGet(name, buf)
}

func (f *Filesystem) XattrSet(path, name string, value []byte, flags inode.XattrSetFlag) error {
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
	return h.XattrSet(name, value, flags)
}

func (f *Filesystem) XattrRemove(path, name string) error {
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
	return h.XattrRemove(name)
}
