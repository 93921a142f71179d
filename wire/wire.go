// wire implements the hand-rolled little-endian fixed-width encoding
// for on-disk Inode and Dirent records (§3, §6, §9 DESIGN NOTES). The
// encoding is deliberately independent of host endianness and struct
// padding: every field is placed at an explicit byte offset.
package wire

import (
	"encoding/binary"

	"sixfs/errno"
)

// Block size constants shared by every layer that needs them.
const (
	BlockSize = 4096
	// N is the number of 8-byte slot indices that fit in one block.
	N = BlockSize / 8
	// MaxNameLen is the longest dirent name, one byte short of the
	// fixed name field width to leave room for the trailing zero.
	MaxNameLen = 255
	nameField  = MaxNameLen + 1
)

// Invalid is the sentinel marking an unused slot or block reference.
const Invalid = ^uint64(0)

// InodeType occupies the high nibble of type_and_mode.
type InodeType uint16

const (
	TypeUnset InodeType = iota
	TypeRegular
	TypeDirectory
	TypeSymlink
	TypeCharDevice
	TypeBlockDevice
	TypeFIFO
	TypeSocket
)

// Inode is the fixed-width, plain-old-data record persisted in
// inodedat.6fs, one per live inode chunk.
type Inode struct {
	AtimeSec, CtimeSec, MtimeSec    uint64
	AtimeNsec, CtimeNsec, MtimeNsec uint32
	Uid, Gid                        uint32
	TypeAndMode                     uint16
	Nlink                           uint32
	Rdev                            uint64
	Size                            uint64
	SlotTreeRoots                   [5]uint64
	XattrBlock                      uint64
}

// InodeSize is the encoded width of an Inode record in bytes.
const InodeSize = 8*3 + 4*3 + 4*2 + 2 + 4 + 8 + 8 + 8*5 + 8

// Type returns the inode's type tag (high nibble of TypeAndMode).
func (i Inode) Type() InodeType { return InodeType(i.TypeAndMode >> 12) }

// Mode returns the permission bits (low 12 bits of TypeAndMode).
func (i Inode) Mode() uint16 { return i.TypeAndMode & 0x0fff }

// SetTypeMode packs a type and permission bits into TypeAndMode.
func (i *Inode) SetTypeMode(t InodeType, mode uint16) {
	i.TypeAndMode = uint16(t)<<12 | (mode & 0x0fff)
}

// EncodeInode writes the fixed-width little-endian form of ino into a
// freshly allocated buffer of length InodeSize.
func EncodeInode(ino *Inode) []byte {
	b := make([]byte, InodeSize)
	o := 0
	putU64 := func(v uint64) { binary.LittleEndian.PutUint64(b[o:], v); o += 8 }
	putU32 := func(v uint32) { binary.LittleEndian.PutUint32(b[o:], v); o += 4 }
	putU16 := func(v uint16) { binary.LittleEndian.PutUint16(b[o:], v); o += 2 }

	putU64(ino.AtimeSec)
	putU64(ino.CtimeSec)
	putU64(ino.MtimeSec)
	putU32(ino.AtimeNsec)
	putU32(ino.CtimeNsec)
	putU32(ino.MtimeNsec)
	putU32(ino.Uid)
	putU32(ino.Gid)
	putU16(ino.TypeAndMode)
	putU32(ino.Nlink)
	putU64(ino.Rdev)
	putU64(ino.Size)
	for _, r := range ino.SlotTreeRoots {
		putU64(r)
	}
	putU64(ino.XattrBlock)
	return b
}

// DecodeInode parses a fixed-width little-endian Inode record. It
// returns errno.EIO if b is shorter than InodeSize (a truncated or
// corrupt chunk read, never expected on a healthy ChunkStore).
func DecodeInode(b []byte) (*Inode, error) {
	if len(b) < InodeSize {
		return nil, errno.Wrap(errno.EIO, "inode record too short: %d < %d", len(b), InodeSize)
	}
	var ino Inode
	o := 0
	getU64 := func() uint64 { v := binary.LittleEndian.Uint64(b[o:]); o += 8; return v }
	getU32 := func() uint32 { v := binary.LittleEndian.Uint32(b[o:]); o += 4; return v }
	getU16 := func() uint16 { v := binary.LittleEndian.Uint16(b[o:]); o += 2; return v }

	ino.AtimeSec = getU64()
	ino.CtimeSec = getU64()
	ino.MtimeSec = getU64()
	ino.AtimeNsec = getU32()
	ino.CtimeNsec = getU32()
	ino.MtimeNsec = getU32()
	ino.Uid = getU32()
	ino.Gid = getU32()
	ino.TypeAndMode = getU16()
	ino.Nlink = getU32()
	ino.Rdev = getU64()
	ino.Size = getU64()
	for i := range ino.SlotTreeRoots {
		ino.SlotTreeRoots[i] = getU64()
	}
	ino.XattrBlock = getU64()
	return &ino, nil
}

// Dirent is the fixed-width record persisted in direndat.6fs.
type Dirent struct {
	Name  string
	Inode uint64
}

// DirentSize is the encoded width of a Dirent record in bytes.
const DirentSize = nameField + 8

// EncodeDirent writes the fixed-width little-endian form of d. The
// name is zero-padded to nameField bytes; it must already be at most
// MaxNameLen bytes (callers enforce ENAMETOOLONG before this point).
func EncodeDirent(d *Dirent) []byte {
	b := make([]byte, DirentSize)
	copy(b[:nameField], d.Name)
	binary.LittleEndian.PutUint64(b[nameField:], d.Inode)
	return b
}

// DecodeDirent parses a fixed-width little-endian Dirent record.
func DecodeDirent(b []byte) (*Dirent, error) {
	if len(b) < DirentSize {
		return nil, errno.Wrap(errno.EIO, "dirent record too short: %d < %d", len(b), DirentSize)
	}
	nameEnd := 0
	for nameEnd < nameField && b[nameEnd] != 0 {
		nameEnd++
	}
	return &Dirent{
		Name:  string(b[:nameEnd]),
		Inode: binary.LittleEndian.Uint64(b[nameField:]),
	}, nil
}

// EncodeSlotTable / DecodeSlotTable convert a block's worth of N
// uint64 slot indices (indirection-block payload, §4.4.1) to and from
// its little-endian on-disk form.
func EncodeSlotTable(slots [N]uint64) []byte {
	b := make([]byte, BlockSize)
	for i, v := range slots {
		binary.LittleEndian.PutUint64(b[i*8:], v)
	}
	return b
}

func DecodeSlotTable(b []byte) (slots [N]uint64, err error) {
	if len(b) < BlockSize {
		return slots, errno.Wrap(errno.EIO, "indirection block too short: %d < %d", len(b), BlockSize)
	}
	for i := range slots {
		slots[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return slots, nil
}
