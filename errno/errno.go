// errno gives every core package a single vocabulary of POSIX error
// values (§7 of the design) independent of any particular kernel shim.
// A host-side dispatcher (FUSE or otherwise) downcasts the returned
// error to a syscall.Errno and negates it for the kernel.
package errno

import (
	"syscall"

	"github.com/pkg/errors"
)

// The errno values named in §7. Re-exported as syscall.Errno so a
// caller can always do `errors.Is(err, errno.ENOENT)` or unwrap down
// to a syscall.Errno with errors.As.
const (
	ENOENT         = syscall.ENOENT
	ENOTDIR        = syscall.ENOTDIR
	ENAMETOOLONG   = syscall.ENAMETOOLONG
	EISDIR         = syscall.EISDIR
	EACCES         = syscall.EACCES
	EROFS          = syscall.EROFS
	ENOSPC         = syscall.ENOSPC
	EDQUOT         = syscall.EDQUOT
	EMLINK         = syscall.EMLINK
	EEXIST         = syscall.EEXIST
	ENOTEMPTY      = syscall.ENOTEMPTY
	EINVAL         = syscall.EINVAL
	EIO            = syscall.EIO
	ENOTRECOVERABLE = syscall.ENOTRECOVERABLE
	ENODATA        = syscall.ENODATA
	ERANGE         = syscall.ERANGE
	ENXIO          = syscall.ENXIO
	EBADF          = syscall.EBADF
	EPERM          = syscall.EPERM
)

// Wrap attaches fault context to an underlying error without losing
// the ability to recover an errno via errors.As, mirroring the
// wrap-don't-panic discipline described in §7 (the core no longer
// reaches for log.Panic on I/O faults the way the teacher's backends
// did; it threads them back to the caller as errors instead).
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// As reports whether err (or anything it wraps) is exactly the given
// errno.
func As(err error, target syscall.Errno) bool {
	var e syscall.Errno
	if errors.As(err, &e) {
		return e == target
	}
	return false
}
