// fs implements §4.5: the Filesystem orchestrates the three
// ChunkStores, the inode handle table, path resolution, rename,
// mount/unmount, statvfs, and emergency read-only degradation. It is
// the top-level entry point a kernel/FUSE shim (out of scope per §1)
// would dispatch operations into.
package fs

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sixfs/chunkstore"
	"sixfs/codec"
	"sixfs/errno"
	"sixfs/hostcontainer"
	"sixfs/inode"
	"sixfs/mlog"
	"sixfs/util"
	"sixfs/wire"
)

const mlogTag = "fs/fs"

// On-disk file names, §6.
const (
	fileInodeMap  = "inodemap.6fs"
	fileInodeData = "inodedat.6fs"
	fileDirentMap = "direnmap.6fs"
	fileDirentDat = "direndat.6fs"
	fileBlockMap  = "blockmap.6fs"
	fileBlockDat  = "blockdat.6fs"
)

// Config bundles the construction inputs named in §6: backend kind,
// directory (ignored for the memory backend), an approximate max-size
// budget (0 = unbounded), an optional 32-byte AEAD root key, and the
// "punch host holes for freed blocks" boolean.
type Config struct {
	Kind           hostcontainer.Kind
	Dir            string
	MaxSizeBytes   uint64
	Key            []byte // 32 bytes, nil disables encryption
	PunchHostHoles bool
}

// EmergencyState is the sticky degradation signal of §7/§9, living on
// the Filesystem value itself (never global) so tests can instantiate
// multiple independent filesystems without cross-contaminating state.
type EmergencyState int32

const (
	EmergencyNone EmergencyState = iota
	EmergencyBug
	EmergencySystemFailure
)

// Filesystem is the top-level orchestrator of §4.5.
type Filesystem struct {
	lock util.RWLocked // the structure lock of §5

	cfg    Config
	stores *inode.Stores
	table  *inode.Table

	rootIndex uint64

	emergency atomic.Int32

	fhLock util.MutexLocked
	fhNext uint64
	fh     map[uint64]*openFile
}

type openFile struct {
	handle *inode.Handle
	isDir  bool
	append bool
}

// Mount opens (or creates) the six host containers described by cfg,
// builds the three ChunkStores, and returns a ready Filesystem. If
// the inode ChunkStore is empty, inode 0 is created as an empty
// directory owned by the calling process's effective uid/gid (§4.5
// "Root creation").
func Mount(cfg Config) (*Filesystem, error) {
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
			return nil, errno.Wrap(err, "mount: creating store directory %s", cfg.Dir)
		}
	}

	open := func(name string) (hostcontainer.Container, error) {
		return hostcontainer.Open(cfg.Kind, cfg.Dir, name, cfg.MaxSizeBytes)
	}
	inodeMap, err := open(fileInodeMap)
	if err != nil {
		return nil, err
	}
	inodeDat, err := open(fileInodeData)
	if err != nil {
		return nil, err
	}
	direntMap, err := open(fileDirentMap)
	if err != nil {
		return nil, err
	}
	direntDat, err := open(fileDirentDat)
	if err != nil {
		return nil, err
	}
	blockMap, err := open(fileBlockMap)
	if err != nil {
		return nil, err
	}
	blockDat, err := open(fileBlockDat)
	if err != nil {
		return nil, err
	}

	var inodeCodec, direntCodec, blockCodec *codec.EncryptingCodec
	if len(cfg.Key) > 0 {
		mk := func(label string) (*codec.EncryptingCodec, error) {
			return codec.NewEncryptingCodec(codec.DeriveSubkey(cfg.Key, label))
		}
		if inodeCodec, err = mk(codec.LabelInode); err != nil {
			return nil, err
		}
		if direntCodec, err = mk(codec.LabelDirent); err != nil {
			return nil, err
		}
		if blockCodec, err = mk(codec.LabelBlock); err != nil {
			return nil, err
		}
	}

	inodeStore, err := chunkstore.New(inodeMap, inodeDat, chunkstore.Options{
		EntitySize: wire.InodeSize, Codec: inodeCodec,
	})
	if err != nil {
		return nil, err
	}
	direntStore, err := chunkstore.New(direntMap, direntDat, chunkstore.Options{
		EntitySize: wire.DirentSize, Codec: direntCodec,
	})
	if err != nil {
		return nil, err
	}
	blockStore, err := chunkstore.New(blockMap, blockDat, chunkstore.Options{
		EntitySize: wire.BlockSize, Codec: blockCodec,
		PunchHostHoles: cfg.PunchHostHoles, ZeroPunchedData: true,
	})
	if err != nil {
		return nil, err
	}

	stores := &inode.Stores{Inode: inodeStore, Dirent: direntStore, Block: blockStore}
	table := inode.NewTable(stores)

	f := &Filesystem{cfg: cfg, stores: stores, table: table, fh: make(map[uint64]*openFile)}

	if inodeStore.LiveSize() == 0 {
		now := time.Now()
		var ino wire.Inode
		ino.SetTypeMode(wire.TypeDirectory, 0700)
		ino.Uid, ino.Gid = uint32(os.Geteuid()), uint32(os.Getegid())
		ino.Nlink = 2 // "." plus root's own lack of a parent entry (§3 invariant)
		ino.XattrBlock = wire.Invalid
		for i := range ino.SlotTreeRoots {
			ino.SlotTreeRoots[i] = wire.Invalid
		}
		sec, nsec := uint64(now.Unix()), uint32(now.Nanosecond())
		ino.AtimeSec, ino.CtimeSec, ino.MtimeSec = sec, sec, sec
		ino.AtimeNsec, ino.CtimeNsec, ino.MtimeNsec = nsec, nsec, nsec
		root, err := table.CreateInode(&ino)
		if err != nil {
			return nil, err
		}
		f.rootIndex = root.Index()
		if err := table.Release(root); err != nil {
			return nil, err
		}
		mlog.Printf2(mlogTag, "formatted fresh filesystem, root inode %d", f.rootIndex)
	} else {
		f.rootIndex = 0
	}
	return f, nil
}

// Unmount flushes the three ChunkStores concurrently (they share no
// locks with each other, so this is the one place the core fans work
// out across goroutines on its own initiative — §5) and closes every
// host container.
func (f *Filesystem) Unmount() error {
	unlock := f.lock.Locked()
	defer unlock()

	var g errgroup.Group
	g.Go(f.stores.Inode.Sync)
	g.Go(f.stores.Dirent.Sync)
	g.Go(f.stores.Block.Sync)
	if err := g.Wait(); err != nil {
		return errno.Wrap(err, "unmount: syncing chunk stores")
	}

	var firstErr error
	for _, cs := range []*chunkstore.ChunkStore{f.stores.Inode, f.stores.Dirent, f.stores.Block} {
		if err := cs.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Emergency reports the current degradation state.
func (f *Filesystem) Emergency() EmergencyState {
	return EmergencyState(f.emergency.Load())
}

// raiseEmergency sets the sticky degradation flag and logs the
// condition (§7: "the flag is non-clearing until process exit" — here
// scoped to the Filesystem value's lifetime instead of the process).
func (f *Filesystem) raiseEmergency(state EmergencyState) {
	f.emergency.Store(int32(state))
	mlog.Printf2(mlogTag, "EMERGENCY: filesystem degraded to state %d", state)
}

// checkWritable returns EROFS/ENOTRECOVERABLE if the emergency flag
// has been raised, demoting every mutating operation per §7.
func (f *Filesystem) checkWritable() error {
	switch f.Emergency() {
	case EmergencyNone:
		return nil
	case EmergencySystemFailure:
		return errno.Wrap(errno.ENOTRECOVERABLE, "filesystem is in an unrecoverable emergency state")
	default:
		return errno.Wrap(errno.EROFS, "filesystem is degraded to read-only")
	}
}

// StatvfsResult is the statvfs(2) counter set described by §4.5.
type StatvfsResult struct {
	BlockSize     uint64
	MaxNameLen    uint64
	Blocks        uint64
	BlocksFree    uint64
	Inodes        uint64
	InodesFree    uint64
}

// Statvfs reports block size 4096, max name length 255, and
// block/inode counts derived from the configured max-size budget (or
// host filesystem capacity when unbounded) per §4.5.
func (f *Filesystem) Statvfs() (StatvfsResult, error) {
	unlock := f.lock.RLocked()
	defer unlock()

	st, err := f.stores.Block.Stat()
	if err != nil {
		return StatvfsResult{}, err
	}
	res := StatvfsResult{BlockSize: wire.BlockSize, MaxNameLen: wire.MaxNameLen}
	if f.cfg.MaxSizeBytes > 0 {
		res.Blocks = f.cfg.MaxSizeBytes / wire.BlockSize
		used := f.stores.Block.LiveSize()
		if used > res.Blocks {
			used = res.Blocks
		}
		res.BlocksFree = res.Blocks - used
		res.Inodes = f.cfg.MaxSizeBytes / uint64(wire.InodeSize+wire.DirentSize)
	} else {
		res.Blocks = st.Capacity / wire.BlockSize
		if st.Capacity%wire.BlockSize != 0 {
			res.Blocks++
		}
		res.BlocksFree = st.Free / wire.BlockSize
		res.Inodes = (st.Capacity) / uint64(wire.InodeSize+wire.DirentSize)
	}
	liveInodes := f.stores.Inode.LiveSize()
	if liveInodes > res.Inodes {
		res.Inodes = liveInodes
	}
	res.InodesFree = res.Inodes - liveInodes
	return res, nil
}

// splitLast splits a slash-separated absolute path into its parent
// directory and final component, e.g. "/a/b/c" -> ("/a/b", "c").
func splitLast(path string) (dir, base string) {
	clean := strings.TrimRight(path, "/")
	if clean == "" {
		return "/", ""
	}
	i := strings.LastIndex(clean, "/")
	if i <= 0 {
		return "/", clean[i+1:]
	}
	return clean[:i], clean[i+1:]
}

// resolve walks path from the root, resolving each component via
// find_dirent on the parent handle (§4.5). Every intermediate must be
// a directory. Returns a Handle with its reference already bumped;
// the caller must Release it.
func (f *Filesystem) resolve(path string) (*inode.Handle, error) {
	clean := filepath.Clean("/" + path)
	if clean == "/" {
		return f.table.Get(f.rootIndex)
	}
	cur, err := f.table.Get(f.rootIndex)
	if err != nil {
		return nil, err
	}
	for _, part := range strings.Split(strings.TrimPrefix(clean, "/"), "/") {
		if cur.Inode().Type() != wire.TypeDirectory {
			f.table.Release(cur)
			return nil, errno.Wrap(errno.ENOTDIR, "resolve: %q is not a directory", part)
		}
		entry, _, err := cur.FindDirent(part)
		if err != nil {
			f.table.Release(cur)
			return nil, err
		}
		if entry == nil {
			f.table.Release(cur)
			return nil, errno.Wrap(errno.ENOENT, "resolve: %q not found", part)
		}
		next, err := f.table.Get(entry.Dirent.Inode)
		if relErr := f.table.Release(cur); relErr != nil && err == nil {
			err = relErr
		}
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// resolveParentAndName resolves path's parent directory and returns
// it alongside the final path component, validating the name length
// up front (§7: ENAMETOOLONG).
func (f *Filesystem) resolveParentAndName(path string) (*inode.Handle, string, error) {
	dir, name := splitLast(path)
	if len(name) > wire.MaxNameLen {
		return nil, "", errno.Wrap(errno.ENAMETOOLONG, "name %q exceeds %d bytes", name, wire.MaxNameLen)
	}
	parent, err := f.resolve(dir)
	if err != nil {
		return nil, "", err
	}
	return parent, name, nil
}

// createInode builds a fresh, fully time-stamped inode record of the
// given type and persists it via the Inode ChunkStore.
func (f *Filesystem) createInode(t wire.InodeType, mode uint16, uid, gid uint32, rdev uint64) (*inode.Handle, error) {
	now := time.Now()
	var ino wire.Inode
	ino.SetTypeMode(t, mode)
	ino.Uid, ino.Gid, ino.Rdev = uid, gid, rdev
	ino.XattrBlock = wire.Invalid
	for i := range ino.SlotTreeRoots {
		ino.SlotTreeRoots[i] = wire.Invalid
	}
	sec, nsec := uint64(now.Unix()), uint32(now.Nanosecond())
	ino.AtimeSec, ino.CtimeSec, ino.MtimeSec = sec, sec, sec
	ino.AtimeNsec, ino.CtimeNsec, ino.MtimeNsec = nsec, nsec, nsec
	return f.table.CreateInode(&ino)
}
