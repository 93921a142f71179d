// fallocate.go implements §4.4.5: fallocate's six modes and the
// SEEK_DATA/SEEK_HOLE lseek whences, all built on top of the slot
// index's existing sparse-hole representation (a slot holding
// wire.Invalid always synthesizes a zero block on read).
package inode

import (
	"sixfs/errno"
	"sixfs/wire"
)

// FallocateMode selects one of the six behaviors of §4.4.5.
type FallocateMode int

const (
	FallocateReserve       FallocateMode = iota // default: reserve size, sparse backing ok
	FallocateAllocate                           // keep-size: eagerly materialize blocks in range
	FallocatePunchHole                          // punch-hole (implies keep-size)
	FallocateZeroRange                          // zero-range
	FallocateCollapseRange                      // collapse-range
	FallocateInsertRange                        // insert-range
)

// Whence selects SEEK_DATA or SEEK_HOLE for Lseek.
type Whence int

const (
	SeekData Whence = iota
	SeekHole
)

// Fallocate dispatches to the mode-specific implementation. keepSize
// is only consulted by FallocateReserve and FallocateZeroRange
// (§4.4.5: "zero-range... no blocks are freed if keep-size is set;
// otherwise equivalent" to punch-hole).
func (h *Handle) Fallocate(offset, length uint64, mode FallocateMode, keepSize bool) error {
	unlock := h.lock.Locked()
	defer unlock()

	switch mode {
	case FallocateReserve:
		return h.fallocateReserveLocked(offset, length, keepSize)
	case FallocateAllocate:
		return h.fallocateAllocateLocked(offset, length)
	case FallocatePunchHole:
		return h.fallocatePunchHoleLocked(offset, length)
	case FallocateZeroRange:
		return h.fallocateZeroRangeLocked(offset, length, keepSize)
	case FallocateCollapseRange:
		return h.fallocateCollapseRangeLocked(offset, length)
	case FallocateInsertRange:
		return h.fallocateInsertRangeLocked(offset, length)
	default:
		return errno.Wrap(errno.EINVAL, "fallocate: unknown mode %v", mode)
	}
}

func (h *Handle) fallocateReserveLocked(offset, length uint64, keepSize bool) error {
	end := offset + length
	if !keepSize && end > h.ino.Size {
		h.ino.Size = end
		h.markInoDirty()
	}
	h.touchTimes(false, true, false)
	if err := h.flushBlockCacheLocked(); err != nil {
		return err
	}
	return h.writeInodeLocked()
}

// fallocateAllocateLocked eagerly materializes sparse blocks in
// [offset, offset+length) without changing size. Materialization is
// clipped to the file's current extent: slot_count is defined purely
// as a function of size (§3), so no slot beyond ceil(size/BLOCK) can
// exist to be preallocated ahead of a future write.
func (h *Handle) fallocateAllocateLocked(offset, length uint64) error {
	end := offset + length
	count := h.slotCountLocked()
	startSlot := offset / wire.BlockSize
	endSlotExcl := (end + wire.BlockSize - 1) / wire.BlockSize
	if endSlotExcl > count {
		endSlotExcl = count
	}
	for s := startSlot; s < endSlotExcl; s++ {
		v, err := h.getSlotLocked(s)
		if err != nil {
			return err
		}
		if v == wire.Invalid {
			idx, err := h.table.stores.Block.Add(make([]byte, wire.BlockSize))
			if err != nil {
				return err
			}
			if err := h.setSlotLocked(s, idx); err != nil {
				return err
			}
		}
	}
	h.touchTimes(false, true, false)
	if err := h.flushBlockCacheLocked(); err != nil {
		return err
	}
	return h.writeInodeLocked()
}

// zeroRangeBlocksLocked zeros every byte in [offset, end), freeing a
// block via the block ChunkStore's Remove when the block it covers is
// fully inside the range and freeFullyCovered is set; otherwise it
// zeros the covered bytes of a materialized block in place. A block
// already holding wire.Invalid is left untouched — it already reads
// back as zero (§4.4.5's zeroed-hole guarantee).
func (h *Handle) zeroRangeBlocksLocked(offset, end uint64, freeFullyCovered bool) error {
	if end <= offset {
		return nil
	}
	count := h.slotCountLocked()
	startBlock := offset / wire.BlockSize
	endBlockIncl := (end - 1) / wire.BlockSize
	for k := startBlock; k <= endBlockIncl; k++ {
		if k >= count {
			break
		}
		blockStart := k * wire.BlockSize
		blockEnd := blockStart + wire.BlockSize
		rangeStart := max(offset, blockStart)
		rangeEnd := min(end, blockEnd)
		fullyCovered := rangeStart == blockStart && rangeEnd == blockEnd

		v, err := h.getSlotLocked(k)
		if err != nil {
			return err
		}
		if v == wire.Invalid {
			continue
		}
		if fullyCovered && freeFullyCovered {
			if err := h.table.stores.Block.Remove(v); err != nil {
				return err
			}
			if err := h.setSlotLocked(k, wire.Invalid); err != nil {
				return err
			}
			continue
		}
		data, err := h.table.stores.Block.Read(v)
		if err != nil {
			return err
		}
		for i := rangeStart - blockStart; i < rangeEnd-blockStart; i++ {
			data[i] = 0
		}
		if err := h.table.stores.Block.Write(v, data); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handle) fallocatePunchHoleLocked(offset, length uint64) error {
	end := offset + length
	if end > h.ino.Size {
		end = h.ino.Size
	}
	if err := h.zeroRangeBlocksLocked(offset, end, true); err != nil {
		return err
	}
	h.touchTimes(false, true, false)
	if err := h.flushBlockCacheLocked(); err != nil {
		return err
	}
	return h.writeInodeLocked()
}

func (h *Handle) fallocateZeroRangeLocked(offset, length uint64, keepSize bool) error {
	end := offset + length
	if !keepSize && end > h.ino.Size {
		if err := h.truncateLocked(end); err != nil {
			return err
		}
	}
	clippedEnd := end
	if clippedEnd > h.ino.Size {
		clippedEnd = h.ino.Size
	}
	if err := h.zeroRangeBlocksLocked(offset, clippedEnd, !keepSize); err != nil {
		return err
	}
	h.touchTimes(false, true, false)
	if err := h.flushBlockCacheLocked(); err != nil {
		return err
	}
	return h.writeInodeLocked()
}

func (h *Handle) fallocateCollapseRangeLocked(offset, length uint64) error {
	if offset%wire.BlockSize != 0 || length%wire.BlockSize != 0 {
		return errno.Wrap(errno.EINVAL, "collapse-range requires block-aligned offset and length")
	}
	if offset+length > h.ino.Size {
		return errno.Wrap(errno.EINVAL, "collapse-range: range extends past size")
	}
	startSlot := offset / wire.BlockSize
	n := length / wire.BlockSize
	for i := uint64(0); i < n; i++ {
		if err := h.removeSlotLocked(startSlot, true); err != nil {
			return err
		}
	}
	h.ino.Size -= length
	h.markInoDirty()
	h.touchTimes(false, true, true)
	if err := h.flushBlockCacheLocked(); err != nil {
		return err
	}
	return h.writeInodeLocked()
}

func (h *Handle) fallocateInsertRangeLocked(offset, length uint64) error {
	if offset%wire.BlockSize != 0 || length%wire.BlockSize != 0 {
		return errno.Wrap(errno.EINVAL, "insert-range requires block-aligned offset and length")
	}
	if offset > h.ino.Size {
		return errno.Wrap(errno.EINVAL, "insert-range: offset past size")
	}
	startSlot := offset / wire.BlockSize
	n := length / wire.BlockSize
	count := h.slotCountLocked()
	for i := uint64(0); i < n; i++ {
		if err := h.insertSlotLocked(startSlot, count, wire.Invalid); err != nil {
			return err
		}
		count++
	}
	h.ino.Size += length
	h.markInoDirty()
	h.touchTimes(false, true, true)
	if err := h.flushBlockCacheLocked(); err != nil {
		return err
	}
	return h.writeInodeLocked()
}

// Lseek implements SEEK_DATA/SEEK_HOLE (§4.4.5), consulting slot
// values only via getSlotLocked under the handle's shared lock.
func (h *Handle) Lseek(offset uint64, whence Whence) (uint64, error) {
	unlock := h.lock.RLocked()
	defer unlock()

	size := h.ino.Size
	if offset > size {
		return 0, errno.Wrap(errno.ENXIO, "lseek: offset %d beyond size %d", offset, size)
	}
	pos := offset
	for pos < size {
		slot := pos / wire.BlockSize
		v, err := h.getSlotLocked(slot)
		if err != nil {
			return 0, err
		}
		isHole := v == wire.Invalid
		if (whence == SeekData && !isHole) || (whence == SeekHole && isHole) {
			return pos, nil
		}
		pos = (slot + 1) * wire.BlockSize
	}
	if whence == SeekHole {
		return size, nil
	}
	return 0, errno.Wrap(errno.ENXIO, "lseek: no data at or after %d", offset)
}
