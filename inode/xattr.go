// xattr.go implements §4.4.4: each inode owns at most one 4096-byte
// xattr block, formatted as a sequence of [namelen(1) | vallen(2) |
// name | value] entries terminated by a zero namelen byte.
package inode

import (
	"encoding/binary"

	"sixfs/errno"
	"sixfs/wire"
)

type xattrEntry struct {
	Name  string
	Value []byte
}

// XattrSetFlag mirrors the Linux setxattr flags (§4.4.4).
type XattrSetFlag int

const (
	XattrSetDefault XattrSetFlag = iota // upsert
	XattrSetCreate                      // fail with EEXIST if present
	XattrSetReplace                     // fail with ENODATA if absent
)

func parseXattrBlock(data []byte) ([]xattrEntry, error) {
	var entries []xattrEntry
	pos := 0
	for pos < len(data) {
		l := int(data[pos])
		if l == 0 {
			break
		}
		pos++
		if pos+2 > len(data) {
			return nil, errno.Wrap(errno.EIO, "xattr block: truncated value-length field")
		}
		v := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		if pos+l+v > len(data) {
			return nil, errno.Wrap(errno.EIO, "xattr block: entry overruns block")
		}
		name := string(data[pos : pos+l])
		pos += l
		value := append([]byte(nil), data[pos:pos+v]...)
		pos += v
		entries = append(entries, xattrEntry{Name: name, Value: value})
	}
	return entries, nil
}

func serializeXattrBlock(entries []xattrEntry) ([]byte, error) {
	buf := make([]byte, wire.BlockSize)
	pos := 0
	for _, e := range entries {
		need := 1 + 2 + len(e.Name) + len(e.Value)
		if pos+need > wire.BlockSize {
			return nil, errno.Wrap(errno.ENOSPC, "xattr block: total size would exceed %d bytes", wire.BlockSize)
		}
		buf[pos] = byte(len(e.Name))
		pos++
		binary.LittleEndian.PutUint16(buf[pos:], uint16(len(e.Value)))
		pos += 2
		copy(buf[pos:], e.Name)
		pos += len(e.Name)
		copy(buf[pos:], e.Value)
		pos += len(e.Value)
	}
	return buf, nil
}

func (h *Handle) loadXattrEntriesLocked() ([]xattrEntry, error) {
	if h.ino.XattrBlock == wire.Invalid {
		return nil, nil
	}
	raw, err := h.table.stores.Block.Read(h.ino.XattrBlock)
	if err != nil {
		return nil, err
	}
	return parseXattrBlock(raw)
}

func (h *Handle) writeXattrEntriesLocked(entries []xattrEntry) error {
	if len(entries) == 0 {
		if h.ino.XattrBlock != wire.Invalid {
			if err := h.table.stores.Block.Remove(h.ino.XattrBlock); err != nil {
				return err
			}
			h.ino.XattrBlock = wire.Invalid
		}
		return nil
	}
	encoded, err := serializeXattrBlock(entries)
	if err != nil {
		return err
	}
	if h.ino.XattrBlock == wire.Invalid {
		index, err := h.table.stores.Block.Add(encoded)
		if err != nil {
			return err
		}
		h.ino.XattrBlock = index
		return nil
	}
	return h.table.stores.Block.Write(h.ino.XattrBlock, encoded)
}

func validateXattrName(name string) error {
	if len(name) == 0 || len(name) > 255 {
		return errno.Wrap(errno.EINVAL, "xattr name length %d out of range", len(name))
	}
	return nil
}

// XattrList enumerates names in insertion order, writing
// "name\0name\0..." into buf and returning the needed size; ERANGE if
// buf is too small (§4.4.4).
func (h *Handle) XattrList(buf []byte) (int, error) {
	unlock := h.lock.Locked()
	defer unlock()
	entries, err := h.loadXattrEntriesLocked()
	if err != nil {
		return 0, err
	}
	need := 0
	for _, e := range entries {
		need += len(e.Name) + 1
	}
	if len(buf) < need {
		return need, errno.Wrap(errno.ERANGE, "xattr list needs %d bytes, buffer has %d", need, len(buf))
	}
	pos := 0
	for _, e := range entries {
		copy(buf[pos:], e.Name)
		pos += len(e.Name)
		buf[pos] = 0
		pos++
	}
	return need, nil
}

// XattrGet copies the value for name into buf, returning the value's
// length; ENODATA if absent, ERANGE if buf is too small (§4.4.4).
func (h *Handle) XattrGet(name string, buf []byte) (int, error) {
	unlock := h.lock.Locked()
	defer unlock()
	entries, err := h.loadXattrEntriesLocked()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Name == name {
			if len(buf) < len(e.Value) {
				return len(e.Value), errno.Wrap(errno.ERANGE, "xattr %q needs %d bytes, buffer has %d", name, len(e.Value), len(buf))
			}
			copy(buf, e.Value)
			return len(e.Value), nil
		}
	}
	return 0, errno.Wrap(errno.ENODATA, "xattr %q not set", name)
}

// XattrSet upserts name=value subject to flags (§4.4.4). Every
// mutation updates ctime and writes the inode back.
func (h *Handle) XattrSet(name string, value []byte, flags XattrSetFlag) error {
	if err := validateXattrName(name); err != nil {
		return err
	}
	unlock := h.lock.Locked()
	defer unlock()
	entries, err := h.loadXattrEntriesLocked()
	if err != nil {
		return err
	}
	idx := -1
	for i, e := range entries {
		if e.Name == name {
			idx = i
			break
		}
	}
	switch flags {
	case XattrSetCreate:
		if idx >= 0 {
			return errno.Wrap(errno.EEXIST, "xattr %q already set", name)
		}
	case XattrSetReplace:
		if idx < 0 {
			return errno.Wrap(errno.ENODATA, "xattr %q not set", name)
		}
	}
	if idx >= 0 {
		entries[idx].Value = append([]byte(nil), value...)
	} else {
		entries = append(entries, xattrEntry{Name: name, Value: append([]byte(nil), value...)})
	}
	if err := h.writeXattrEntriesLocked(entries); err != nil {
		return err
	}
	h.touchTimes(false, true, false)
	return h.writeInodeLocked()
}

// XattrRemove deletes name, freeing the xattr block entirely if it
// was the last entry (§4.4.4).
func (h *Handle) XattrRemove(name string) error {
	unlock := h.lock.Locked()
	defer unlock()
	entries, err := h.loadXattrEntriesLocked()
	if err != nil {
		return err
	}
	idx := -1
	for i, e := range entries {
		if e.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errno.Wrap(errno.ENODATA, "xattr %q not set", name)
	}
	entries = append(entries[:idx], entries[idx+1:]...)
	if err := h.writeXattrEntriesLocked(entries); err != nil {
		return err
	}
	h.touchTimes(false, true, false)
	return h.writeInodeLocked()
}
