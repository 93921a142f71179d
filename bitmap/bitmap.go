// bitmap implements the chunk-liveness tracker of §4.2: one bit per
// chunk, backed by a dedicated HostContainer with an 8-byte chunk
// size, with tail-trimming on sync so freeing the highest-numbered
// bits shrinks the underlying container.
package bitmap

import (
	"encoding/binary"
	"math/bits"

	"sixfs/errno"
	"sixfs/hostcontainer"
)

const chunkBytes = 8
const bitsPerChunk = chunkBytes * 8

// Bitmap tracks liveness of fixed-size chunks in a companion
// HostContainer (owned by the caller, typically a ChunkStore).
type Bitmap struct {
	container hostcontainer.Container

	// Exactly one chunk is "current" at a time (§4.2 invariant).
	hasCurrent   bool
	currentIndex uint64
	currentWord  uint64
	dirty        bool

	firstZeroCandidate uint64
}

// New wraps container as a Bitmap. container's existing contents (if
// any) are assumed to already be a valid little-endian u64 bitmap.
func New(container hostcontainer.Container) *Bitmap {
	return &Bitmap{container: container}
}

func (b *Bitmap) chunkCount() uint64 {
	return b.container.SizeInBytes() / chunkBytes
}

func (b *Bitmap) loadChunk(index uint64) (uint64, error) {
	if b.hasCurrent && b.currentIndex == index {
		return b.currentWord, nil
	}
	if err := b.flushCurrent(); err != nil {
		return 0, err
	}
	buf := make([]byte, chunkBytes)
	if index < b.chunkCount() {
		if _, err := b.container.Read(index*chunkBytes, buf); err != nil {
			return 0, errno.Wrap(err, "bitmap: reading chunk %d", index)
		}
	}
	word := binary.LittleEndian.Uint64(buf)
	b.hasCurrent = true
	b.currentIndex = index
	b.currentWord = word
	b.dirty = false
	return word, nil
}

func (b *Bitmap) flushCurrent() error {
	if !b.hasCurrent || !b.dirty {
		return nil
	}
	buf := make([]byte, chunkBytes)
	binary.LittleEndian.PutUint64(buf, b.currentWord)
	if err := b.container.Write(b.currentIndex*chunkBytes, buf); err != nil {
		return errno.Wrap(err, "bitmap: writing chunk %d", b.currentIndex)
	}
	b.dirty = false
	return nil
}

// Get reports whether bit index is set.
func (b *Bitmap) Get(index uint64) (bool, error) {
	word, err := b.loadChunk(index / bitsPerChunk)
	if err != nil {
		return false, err
	}
	return word&(1<<(index%bitsPerChunk)) != 0, nil
}

// Set assigns bit index, growing the backing container if the chunk
// holding it does not exist yet.
func (b *Bitmap) Set(index uint64, value bool) error {
	chunkIndex := index / bitsPerChunk
	word, err := b.loadChunk(chunkIndex)
	if err != nil {
		return err
	}
	mask := uint64(1) << (index % bitsPerChunk)
	if value {
		word |= mask
	} else {
		word &^= mask
	}
	b.currentWord = word
	b.dirty = true
	switch {
	case !value && index < b.firstZeroCandidate:
		b.firstZeroCandidate = index
	case value && index == b.firstZeroCandidate:
		b.firstZeroCandidate++
	}
	return nil
}

// FirstZero finds the lowest-numbered unset bit, scanning one 64-bit
// chunk at a time from the cursor using count-trailing-zeros over the
// bitwise complement (§4.2). When every bit of the container's chunks
// is set, it returns the first bit of the next chunk; Set on that bit
// extends the container when the chunk is written back.
func (b *Bitmap) FirstZero() (uint64, error) {
	candidate := b.firstZeroCandidate
	chunkIndex := candidate / bitsPerChunk
	count := b.chunkCount()
	for {
		var word uint64
		if chunkIndex < count || (b.hasCurrent && b.currentIndex == chunkIndex) {
			var err error
			word, err = b.loadChunk(chunkIndex)
			if err != nil {
				return 0, err
			}
		}
		// Treat bits before `candidate` within this chunk as set on
		// the first iteration, so the search starts at the cursor
		// and never reports a bit below it.
		base := chunkIndex * bitsPerChunk
		masked := word
		if base < candidate {
			masked |= (uint64(1) << (candidate - base)) - 1
		}
		tz := bits.TrailingZeros64(^masked)
		if tz < bitsPerChunk {
			found := base + uint64(tz)
			b.firstZeroCandidate = found
			return found, nil
		}
		chunkIndex++
		candidate = chunkIndex * bitsPerChunk
	}
}

// Sync writes back the dirty chunk, if any, and then tail-trims: if
// the container's highest chunk is now all-zero, it shrinks the
// container, peeling further trailing all-zero chunks, but always
// leaves at least one chunk behind.
func (b *Bitmap) Sync() error {
	if err := b.flushCurrent(); err != nil {
		return err
	}
	count := b.chunkCount()
	for count > 1 {
		last := count - 1
		word, err := b.loadChunk(last)
		if err != nil {
			return err
		}
		if word != 0 {
			break
		}
		count = last
	}
	newSize := count * chunkBytes
	if newSize == b.container.SizeInBytes() {
		return nil
	}
	if b.hasCurrent && b.currentIndex >= count {
		b.hasCurrent = false
	}
	if err := b.container.SetSize(newSize); err != nil {
		return errno.Wrap(err, "bitmap: trimming tail to %d bytes", newSize)
	}
	return nil
}

// HighestLiveIndex returns the index of the highest-numbered set bit
// plus one (the tail-trimmed logical size in bits), or 0 if no bit is
// set. Used by ChunkStore to know its live chunk count without a full
// scan when the bitmap container itself has not yet been asked to
// Sync.
func (b *Bitmap) HighestLiveIndex() (uint64, error) {
	if err := b.flushCurrent(); err != nil {
		return 0, err
	}
	count := b.chunkCount()
	for count > 0 {
		word, err := b.loadChunk(count - 1)
		if err != nil {
			return 0, err
		}
		if word != 0 {
			return (count-1)*bitsPerChunk + uint64(bits.Len64(word)), nil
		}
		count--
	}
	return 0, nil
}
