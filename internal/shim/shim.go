// shim documents, without implementing, the boundary a kernel/FUSE
// dispatcher would call across to reach a *fs.Filesystem (§6a). It
// exists purely as a compile-checked contract: a real dispatcher
// (hanwen/go-fuse-style, as the teacher's server/connector packages
// drive) would implement something satisfying Dispatcher by calling
// straight through to the *fs.Filesystem methods of the same name.
//
// Nothing in this package is wired to a real kernel transport; the
// kernel-facing side is explicitly out of scope (§1 Non-goals).
package shim

import "time"

// Dispatcher is a set of path- and handle-based operations a
// kernel-facing front end calls on the core. Every method maps 1:1
// onto an exported *fs.Filesystem method; Mknod, Create and
// ReaddirPlus are not part of it. This interface exists
// so a future transport layer can be written and tested against a
// fake without depending on fs's concrete type.
type Dispatcher interface {
	Getattr(path string) (Attr, error)
	Mkdir(path string, mode uint16, uid, gid uint32) (Attr, error)
	Rmdir(path string) error
	Unlink(path string) error
	Symlink(path, target string, uid, gid uint32) (Attr, error)
	Readlink(path string) (string, error)
	Link(oldPath, newPath string) (Attr, error)
	Rename(oldPath, newPath string, mode int) error
	Chmod(path string, mode uint16) error
	Chown(path string, uid, gid uint32) error
	Utimens(path string, atime, mtime *time.Time) error
	Truncate(path string, length uint64) error

	Open(path string, appendMode bool) (fh uint64, attr Attr, err error)
	Close(fh uint64) error
	Read(fh uint64, buf []byte, offset uint64) (int, error)
	Write(fh uint64, buf []byte, offset uint64) (int, error)
	Fallocate(fh uint64, offset, length uint64, mode int, keepSize bool) error
	Lseek(fh uint64, offset uint64, whence int) (uint64, error)

	Opendir(path string) (fh uint64, err error)
	Closedir(fh uint64) error
	Readdir(fh uint64) ([]DirEntry, error)

	XattrList(path string, buf []byte) (int, error)
	XattrGet(path, name string, buf []byte) (int, error)
	XattrSet(path, name string, value []byte, flags int) error
	XattrRemove(path, name string) error

	Statvfs() (StatvfsResult, error)
}

// Attr mirrors fs.Attr's shape for dispatcher implementers that do
// not want to import the fs package directly.
type Attr struct {
	Inode    uint64
	Type     uint16
	Mode     uint16
	Nlink    uint32
	Uid, Gid uint32
	Rdev     uint64
	Size     uint64
	Atime    time.Time
	Ctime    time.Time
	Mtime    time.Time
}

// DirEntry mirrors fs.DirEntry.
type DirEntry struct {
	Name  string
	Inode uint64
}

// StatvfsResult mirrors fs.StatvfsResult.
type StatvfsResult struct {
	BlockSize     uint64
	MaxNameLen    uint64
	Blocks        uint64
	BlocksFree    uint64
	Inodes        uint64
	InodesFree    uint64
}
