// chunkstore implements §4.3: a ChunkStore binds one Bitmap to one
// HostContainer carrying fixed-size chunks (entity_size, or
// entity_size+overhead when AEAD is active), and layers add/remove/
// read/write by chunk index over that pair.
package chunkstore

import (
	"log"

	"sixfs/bitmap"
	"sixfs/codec"
	"sixfs/errno"
	"sixfs/hostcontainer"
	"sixfs/util"
)

// ChunkStore couples a Bitmap (liveness) to a HostContainer (payload)
// whose chunk size is fixed at construction time. One ChunkStore
// instance exists per entity kind (inode, dirent, block); all three
// share the Filesystem's root key but derive independent AEAD subkeys
// (§4.3).
type ChunkStore struct {
	lock util.RWLocked

	bitmapContainer hostcontainer.Container
	dataContainer   hostcontainer.Container
	bm              *bitmap.Bitmap

	entitySize int
	codec      *codec.EncryptingCodec // nil when encryption is disabled
	chunkSize  int                    // entitySize, or entitySize+overhead when codec != nil

	// punchHostHoles mirrors the "punch host holes for freed blocks"
	// configuration boolean (§6); only ever set true for the block
	// ChunkStore. zeroPunchedData is always true for that same store
	// (§4.4.5's "zeroed-hole guarantee") and is exposed so InodeHandle
	// can assert it rather than silently assume it.
	punchHostHoles  bool
	zeroPunchedData bool

	liveSize uint64 // one past the highest live chunk index; 0 if empty
}

// Options configures a ChunkStore at construction time.
type Options struct {
	EntitySize      int
	Codec           *codec.EncryptingCodec
	PunchHostHoles  bool
	ZeroPunchedData bool
}

// New builds a ChunkStore over bitmapContainer/dataContainer, neither
// of which is owned by anyone else. liveSize is recovered from the
// bitmap's own highest-live-index scan, so mount does not need a
// separate on-disk counter.
func New(bitmapContainer, dataContainer hostcontainer.Container, opts Options) (*ChunkStore, error) {
	bm := bitmap.New(bitmapContainer)
	chunkSize := opts.EntitySize
	if opts.Codec != nil {
		chunkSize += 1 + opts.Codec.Overhead()
	}
	cs := &ChunkStore{
		bitmapContainer: bitmapContainer,
		dataContainer:   dataContainer,
		bm:              bm,
		entitySize:      opts.EntitySize,
		codec:           opts.Codec,
		chunkSize:       chunkSize,
		punchHostHoles:  opts.PunchHostHoles,
		zeroPunchedData: opts.ZeroPunchedData,
	}
	hi, err := bm.HighestLiveIndex()
	if err != nil {
		return nil, errno.Wrap(err, "chunkstore: recovering live size")
	}
	cs.liveSize = hi
	return cs, nil
}

// EntitySize returns the logical (unwrapped) payload size of one chunk.
func (cs *ChunkStore) EntitySize() int { return cs.entitySize }

// ZeroPunchedData reports whether a removed/absent chunk must be
// synthesized as all-zero on read rather than surfaced as an error or
// stale data (§4.4.5). It returns the Options.ZeroPunchedData value
// the store was built with; when false, Read of an index below
// LiveSize whose bit is clear returns EIO.
func (cs *ChunkStore) ZeroPunchedData() bool { return cs.zeroPunchedData }

// LiveSize returns one past the highest live chunk index.
func (cs *ChunkStore) LiveSize() uint64 {
	unlock := cs.lock.RLocked()
	defer unlock()
	return cs.liveSize
}

func (cs *ChunkStore) chunkOffset(index uint64) uint64 {
	return index * uint64(cs.chunkSize)
}

// Add allocates a fresh chunk via the bitmap's first-zero search,
// writes payload into it, and returns its index. On write failure the
// bit (and any container growth) is rolled back (§4.3).
func (cs *ChunkStore) Add(payload []byte) (uint64, error) {
	unlock := cs.lock.Locked()
	defer unlock()

	index, err := cs.bm.FirstZero()
	if err != nil {
		return 0, errno.Wrap(err, "chunkstore: allocating bit")
	}
	if err := cs.bm.Set(index, true); err != nil {
		return 0, errno.Wrap(err, "chunkstore: setting bit %d", index)
	}

	prevSize := cs.dataContainer.SizeInBytes()
	grew := false
	if need := cs.chunkOffset(index) + uint64(cs.chunkSize); need > prevSize {
		if err := cs.dataContainer.SetSize(need); err != nil {
			cs.rollbackBit(index)
			return 0, errno.Wrap(err, "chunkstore: growing data container to %d", need)
		}
		grew = true
	}

	if err := cs.writeChunkLocked(index, payload); err != nil {
		if grew {
			_ = cs.dataContainer.SetSize(prevSize)
		}
		cs.rollbackBit(index)
		return 0, err
	}

	if index+1 > cs.liveSize {
		cs.liveSize = index + 1
	}
	if err := cs.bm.Sync(); err != nil {
		return 0, errno.Wrap(err, "chunkstore: syncing bitmap after add")
	}
	return index, nil
}

func (cs *ChunkStore) rollbackBit(index uint64) {
	_ = cs.bm.Set(index, false)
	_ = cs.bm.Sync()
}

// Remove clears the bit for index. If it was the tail bit, the
// bitmap's own Sync peels trailing free bits and shrinks the data
// container to match; otherwise, if punchHostHoles is set (block
// store only), the freed byte range is punched on a best-effort basis
// (§4.3: "ignore punch-hole errors").
func (cs *ChunkStore) Remove(index uint64) error {
	unlock := cs.lock.Locked()
	defer unlock()
	return cs.removeLocked(index)
}

func (cs *ChunkStore) removeLocked(index uint64) error {
	if err := cs.boundsCheckLocked(index); err != nil {
		return err
	}
	wasTail := index+1 == cs.liveSize
	if err := cs.bm.Set(index, false); err != nil {
		return errno.Wrap(err, "chunkstore: clearing bit %d", index)
	}
	if wasTail {
		hi, err := cs.bm.HighestLiveIndex()
		if err != nil {
			return errno.Wrap(err, "chunkstore: recomputing live size")
		}
		cs.liveSize = hi
		if err := cs.bm.Sync(); err != nil {
			return errno.Wrap(err, "chunkstore: syncing bitmap after remove")
		}
		newDataSize := cs.chunkOffset(cs.liveSize)
		if newDataSize < cs.dataContainer.SizeInBytes() {
			if err := cs.dataContainer.SetSize(newDataSize); err != nil {
				return errno.Wrap(err, "chunkstore: trimming data container to %d", newDataSize)
			}
		}
		return nil
	}
	if cs.punchHostHoles {
		// Best-effort: the bitmap already records this chunk as
		// free, so a punch-hole failure here never corrupts logical
		// state (§7: "hole-punch failures ... always swallowed").
		if err := cs.dataContainer.PunchHole(cs.chunkOffset(index), uint64(cs.chunkSize)); err != nil {
			log.Printf("chunkstore: warning: punching hole for chunk %d: %v", index, err)
		}
	}
	return nil
}

func (cs *ChunkStore) boundsCheckLocked(index uint64) error {
	if index >= cs.liveSize {
		return errno.Wrap(errno.EIO, "chunkstore: index %d out of bounds (live size %d)", index, cs.liveSize)
	}
	return nil
}

// Read fetches the logical payload of chunk index. A bit that reads
// as unset below LiveSize (a punched hole in the middle of the range)
// synthesizes an all-zero payload when zeroPunchedData is set, per
// §4.4.5's invariant that a read never re-consults the host container
// for a slot whose bitmap bit is clear.
func (cs *ChunkStore) Read(index uint64) ([]byte, error) {
	unlock := cs.lock.RLocked()
	defer unlock()
	if err := cs.boundsCheckLocked(index); err != nil {
		return nil, err
	}
	live, err := cs.bm.Get(index)
	if err != nil {
		return nil, errno.Wrap(err, "chunkstore: reading bit %d", index)
	}
	if !live {
		if cs.zeroPunchedData {
			return make([]byte, cs.entitySize), nil
		}
		return nil, errno.Wrap(errno.EIO, "chunkstore: read of unset chunk %d", index)
	}
	stored := make([]byte, cs.chunkSize)
	if _, err := cs.dataContainer.Read(cs.chunkOffset(index), stored); err != nil {
		return nil, errno.Wrap(err, "chunkstore: reading chunk %d", index)
	}
	if cs.codec == nil {
		return stored, nil
	}
	return unwrapChunk(cs.codec, index, stored, cs.entitySize)
}

// Write overwrites the payload of an already-live chunk index.
func (cs *ChunkStore) Write(index uint64, payload []byte) error {
	unlock := cs.lock.Locked()
	defer unlock()
	if err := cs.boundsCheckLocked(index); err != nil {
		return err
	}
	return cs.writeChunkLocked(index, payload)
}

func (cs *ChunkStore) writeChunkLocked(index uint64, payload []byte) error {
	if len(payload) != cs.entitySize {
		return errno.Wrap(errno.EINVAL, "chunkstore: payload size %d != entity size %d", len(payload), cs.entitySize)
	}
	stored := payload
	if cs.codec != nil {
		wrapped, err := wrapChunk(cs.codec, index, payload)
		if err != nil {
			return err
		}
		stored = wrapped
	}
	if err := cs.dataContainer.Write(cs.chunkOffset(index), stored); err != nil {
		return errno.Wrap(err, "chunkstore: writing chunk %d", index)
	}
	return nil
}

// Sync flushes the bitmap's dirty chunk. Called at unmount and after
// any bit mutation sequence that did not already call it.
func (cs *ChunkStore) Sync() error {
	unlock := cs.lock.Locked()
	defer unlock()
	if err := cs.bm.Sync(); err != nil {
		return errno.Wrap(err, "chunkstore: sync")
	}
	return nil
}

// Close releases both underlying HostContainers.
func (cs *ChunkStore) Close() error {
	unlock := cs.lock.Locked()
	defer unlock()
	err1 := cs.bitmapContainer.Close()
	err2 := cs.dataContainer.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Stat reports the capacity/free pair of the underlying data
// container, used by Filesystem.Statvfs.
func (cs *ChunkStore) Stat() (hostcontainer.Stat, error) {
	unlock := cs.lock.RLocked()
	defer unlock()
	return cs.dataContainer.Stat()
}
