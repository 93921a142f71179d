package inode

import (
	"sixfs/wire"
)

// ReadAt fills buf starting at offset, clipped to inode.size, and
// updates atime per relatime rules (§4.4.2). A slot holding Invalid
// synthesizes BlockSize zero bytes (sparse hole); a non-Invalid slot
// is read from the block store.
func (h *Handle) ReadAt(buf []byte, offset uint64) (int, error) {
	unlock := h.lock.Locked()
	defer unlock()

	size := h.ino.Size
	if offset >= size {
		return 0, nil
	}
	if want := size - offset; uint64(len(buf)) > want {
		buf = buf[:want]
	}
	total := 0
	for total < len(buf) {
		pos := offset + uint64(total)
		slot := pos / wire.BlockSize
		inBlock := pos % wire.BlockSize
		n := wire.BlockSize - inBlock
		if remain := uint64(len(buf) - total); n > remain {
			n = remain
		}
		blockIndex, err := h.getSlotLocked(slot)
		if err != nil {
			return total, err
		}
		var data []byte
		if blockIndex == wire.Invalid {
			data = make([]byte, n)
		} else {
			raw, err := h.table.stores.Block.Read(blockIndex)
			if err != nil {
				return total, err
			}
			data = raw[inBlock : inBlock+n]
		}
		copy(buf[total:], data)
		total += int(n)
	}
	h.maybeUpdateAtimeLocked()
	if err := h.writeInodeLocked(); err != nil {
		return total, err
	}
	return total, nil
}

// WriteAt writes buf at offset (or at inode.size if isAppend), growing
// the inode via truncateLocked when offset is past the current size,
// and materializing any sparse block it touches (§4.4.2). The inode
// record is only persisted if it actually changed.
func (h *Handle) WriteAt(buf []byte, offset uint64, isAppend bool) (int, error) {
	unlock := h.lock.Locked()
	defer unlock()

	if isAppend {
		offset = h.ino.Size
	}
	if offset > h.ino.Size {
		if err := h.truncateLocked(offset); err != nil {
			return 0, err
		}
	}

	total := 0
	for total < len(buf) {
		pos := offset + uint64(total)
		slot := pos / wire.BlockSize
		inBlock := pos % wire.BlockSize
		n := wire.BlockSize - inBlock
		if remain := uint64(len(buf) - total); n > remain {
			n = remain
		}

		blockIndex, err := h.getSlotLocked(slot)
		if err != nil {
			return total, err
		}
		var data []byte
		if blockIndex == wire.Invalid {
			data = make([]byte, wire.BlockSize)
		} else {
			data, err = h.table.stores.Block.Read(blockIndex)
			if err != nil {
				return total, err
			}
		}
		copy(data[inBlock:inBlock+n], buf[total:total+int(n)])

		if blockIndex == wire.Invalid {
			newIndex, err := h.table.stores.Block.Add(data)
			if err != nil {
				return total, err
			}
			if err := h.setSlotLocked(slot, newIndex); err != nil {
				return total, err
			}
		} else {
			if err := h.table.stores.Block.Write(blockIndex, data); err != nil {
				return total, err
			}
		}
		total += int(n)
	}

	end := offset + uint64(total)
	if end > h.ino.Size {
		h.ino.Size = end
		h.markInoDirty()
	}
	h.touchTimes(false, true, true)
	if err := h.flushBlockCacheLocked(); err != nil {
		return total, err
	}
	if err := h.writeInodeLocked(); err != nil {
		return total, err
	}
	return total, nil
}

// Truncate is the exported, locked form of truncateLocked.
func (h *Handle) Truncate(length uint64) error {
	unlock := h.lock.Locked()
	defer unlock()
	if err := h.truncateLocked(length); err != nil {
		return err
	}
	if err := h.flushBlockCacheLocked(); err != nil {
		return err
	}
	return h.writeInodeLocked()
}

// truncateLocked implements the five numbered steps of §4.4.2. Caller
// holds h.lock exclusively.
func (h *Handle) truncateLocked(length uint64) error {
	oldSize := h.ino.Size
	newCount := (length + wire.BlockSize - 1) / wire.BlockSize
	if length == 0 {
		newCount = 0
	}
	count := h.slotCountLocked()

	for newCount < count {
		count--
		if err := h.removeSlotLocked(count, true); err != nil {
			return err
		}
	}
	for newCount > count {
		if err := h.insertSlotLocked(count, count, wire.Invalid); err != nil {
			return err
		}
		count++
	}

	if length > oldSize && oldSize%wire.BlockSize != 0 {
		lastSlot := oldSize / wire.BlockSize
		blockIndex, err := h.getSlotLocked(lastSlot)
		if err != nil {
			return err
		}
		if blockIndex != wire.Invalid {
			data, err := h.table.stores.Block.Read(blockIndex)
			if err != nil {
				return err
			}
			tailStart := oldSize % wire.BlockSize
			for i := tailStart; i < wire.BlockSize; i++ {
				data[i] = 0
			}
			if err := h.table.stores.Block.Write(blockIndex, data); err != nil {
				return err
			}
		}
	}

	h.ino.Size = length
	h.markInoDirty()
	h.touchTimes(false, true, true)
	return nil
}
