package inode

import (
	"sixfs/errno"
	"sixfs/util"
	"sixfs/wire"
)

const n = uint64(wire.N)

// Per-tree slot counts and cumulative offsets (§3, §4.4.1).
var treeSize = [5]uint64{1, n, n * n, n * n * n, n * n * n * n}
var treeOffset = [5]uint64{0, 1, 1 + n, 1 + n + n*n, 1 + n + n*n + n*n*n}

// MaxSlots is the number of addressable slots across all five trees:
// 1 + N + N² + N³ + N⁴ (the largest slot index is MaxSlots-1).
var MaxSlots = treeOffset[4] + treeSize[4]

// slotToTree returns the tree index t (0..4) owning logical slot s
// and, for t>0, the t intra-tree coordinates (each 0..N-1) identifying
// the path from the tree root to the leaf slot, most-significant
// first (§4.4.1).
func slotToTree(s uint64) (tree int, coords [4]int) {
	for t := 4; t >= 0; t-- {
		if s >= treeOffset[t] {
			tree = t
			break
		}
	}
	if tree == 0 {
		return 0, coords
	}
	rel := s - treeOffset[tree]
	for level := tree - 1; level >= 0; level-- {
		coords[level] = int(rel % n)
		rel /= n
	}
	return tree, coords
}

// slotCountLocked computes slot_count(inode) per §3: ⌈size/BLOCK⌉ for
// regular files, size itself for directories, 0 for everything else
// (symlinks store their target directly in SlotTreeRoots[0], not
// through the slot index). Caller holds h.lock.
func (h *Handle) slotCountLocked() uint64 {
	switch h.ino.Type() {
	case wire.TypeRegular:
		return util.CeilDiv(h.ino.Size, wire.BlockSize)
	case wire.TypeDirectory:
		return h.ino.Size
	default:
		return 0
	}
}

func (h *Handle) loadPtrBlockLocked(index uint64) (*cachedBlock, error) {
	if cb, ok := h.blocks[index]; ok {
		return cb, nil
	}
	raw, err := h.table.stores.Block.Read(index)
	if err != nil {
		return nil, errno.Wrap(err, "inode: reading pointer block %d", index)
	}
	data, err := wire.DecodeSlotTable(raw)
	if err != nil {
		return nil, err
	}
	cb := &cachedBlock{data: data}
	h.blocks[index] = cb
	return cb, nil
}

func (h *Handle) newPtrBlockLocked() (uint64, *cachedBlock, error) {
	var data [wire.N]uint64
	for i := range data {
		data[i] = wire.Invalid
	}
	index, err := h.table.stores.Block.Add(wire.EncodeSlotTable(data))
	if err != nil {
		return 0, nil, errno.Wrap(err, "inode: allocating pointer block")
	}
	cb := &cachedBlock{data: data}
	h.blocks[index] = cb
	return index, cb, nil
}

func (h *Handle) freePtrBlockLocked(index uint64) error {
	delete(h.blocks, index)
	if err := h.table.stores.Block.Remove(index); err != nil {
		return errno.Wrap(err, "inode: freeing pointer block %d", index)
	}
	return nil
}

// getSlotLocked returns the logical value stored at slot s, or
// wire.Invalid if any block along the path is unmaterialized (§4.4.1:
// "any not-yet-materialized interior block" reads back as a hole).
// Caller holds h.lock (shared is sufficient).
func (h *Handle) getSlotLocked(s uint64) (uint64, error) {
	tree, coords := slotToTree(s)
	if tree == 0 {
		return h.ino.SlotTreeRoots[0], nil
	}
	cur := h.ino.SlotTreeRoots[tree]
	if cur == wire.Invalid {
		return wire.Invalid, nil
	}
	for level := 0; level < tree; level++ {
		cb, err := h.loadPtrBlockLocked(cur)
		if err != nil {
			return 0, err
		}
		cur = cb.data[coords[level]]
		if cur == wire.Invalid {
			return wire.Invalid, nil
		}
	}
	return cur, nil
}

// setSlotLocked writes v at slot s, materializing any interior block
// on the path that does not exist yet (only when v != Invalid), and
// freeing interior blocks that become entirely Invalid as a result,
// cascading up to the tree root (§3 invariant, §4.4.1). Caller holds
// h.lock exclusively.
func (h *Handle) setSlotLocked(s uint64, v uint64) error {
	tree, coords := slotToTree(s)
	if tree == 0 {
		if h.ino.SlotTreeRoots[0] != v {
			h.ino.SlotTreeRoots[0] = v
			h.markInoDirty()
		}
		return nil
	}
	newRoot, err := h.setSlotInTreeLocked(h.ino.SlotTreeRoots[tree], coords[:tree], v)
	if err != nil {
		return err
	}
	if newRoot != h.ino.SlotTreeRoots[tree] {
		h.ino.SlotTreeRoots[tree] = newRoot
		h.markInoDirty()
	}
	return nil
}

// setSlotInTreeLocked recurses one level per call. blockIndex is the
// current level's block (wire.Invalid if unmaterialized); coords[0]
// addresses this level, coords[1:] address the levels below. It
// returns the (possibly new, possibly freed-to-Invalid) index for
// this level.
func (h *Handle) setSlotInTreeLocked(blockIndex uint64, coords []int, v uint64) (uint64, error) {
	isLeaf := len(coords) == 1
	if blockIndex == wire.Invalid {
		if v == wire.Invalid {
			return wire.Invalid, nil
		}
		idx, _, err := h.newPtrBlockLocked()
		if err != nil {
			return 0, err
		}
		blockIndex = idx
	}
	cb, err := h.loadPtrBlockLocked(blockIndex)
	if err != nil {
		return 0, err
	}
	if isLeaf {
		if cb.data[coords[0]] != v {
			cb.data[coords[0]] = v
			cb.dirty = true
		}
	} else {
		child := cb.data[coords[0]]
		newChild, err := h.setSlotInTreeLocked(child, coords[1:], v)
		if err != nil {
			return 0, err
		}
		if newChild != child {
			cb.data[coords[0]] = newChild
			cb.dirty = true
		}
	}
	allInvalid := true
	for _, x := range cb.data {
		if x != wire.Invalid {
			allInvalid = false
			break
		}
	}
	if allInvalid {
		if err := h.freePtrBlockLocked(blockIndex); err != nil {
			return 0, err
		}
		return wire.Invalid, nil
	}
	return blockIndex, nil
}

// insertSlotLocked shifts slots [s, slot_count) up by one and places
// v at s (§4.4.1). count is the slot count *before* the insertion;
// callers are responsible for updating inode.size afterward.
func (h *Handle) insertSlotLocked(s, count uint64, v uint64) error {
	for i := count; i > s; i-- {
		moved, err := h.getSlotLocked(i - 1)
		if err != nil {
			return err
		}
		if err := h.setSlotLocked(i, moved); err != nil {
			return err
		}
	}
	return h.setSlotLocked(s, v)
}

// removeSlotLocked shifts slots (s, slot_count) down by one,
// overwriting slot s, and optionally frees the payload that was at s
// before the shift (§4.4.1). The slot count is read from the inode,
// so callers update inode.size only after this returns.
func (h *Handle) removeSlotLocked(s uint64, freePayload bool) error {
	count := h.slotCountLocked()
	if freePayload {
		old, err := h.getSlotLocked(s)
		if err != nil {
			return err
		}
		if old != wire.Invalid {
			if err := h.freePayloadLocked(old); err != nil {
				return err
			}
		}
	}
	for i := s; i+1 < count; i++ {
		moved, err := h.getSlotLocked(i + 1)
		if err != nil {
			return err
		}
		if err := h.setSlotLocked(i, moved); err != nil {
			return err
		}
	}
	if count > 0 {
		return h.setSlotLocked(count-1, wire.Invalid)
	}
	return nil
}

// freePayloadLocked releases the entity a leaf slot value refers to:
// a block for regular files, a dirent for directories.
func (h *Handle) freePayloadLocked(payload uint64) error {
	switch h.ino.Type() {
	case wire.TypeDirectory:
		return h.table.stores.Dirent.Remove(payload)
	default:
		return h.table.stores.Block.Remove(payload)
	}
}
