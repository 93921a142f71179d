package wire

import (
	"testing"

	"github.com/stvp/assert"
)

func TestInodeRoundTrip(t *testing.T) {
	ino := &Inode{
		AtimeSec: 100, CtimeSec: 200, MtimeSec: 300,
		AtimeNsec: 1, CtimeNsec: 2, MtimeNsec: 3,
		Uid: 1000, Gid: 1000,
		Nlink: 2, Rdev: 0, Size: 4096,
		SlotTreeRoots: [5]uint64{Invalid, 7, Invalid, Invalid, Invalid},
		XattrBlock:    Invalid,
	}
	ino.SetTypeMode(TypeRegular, 0644)

	b := EncodeInode(ino)
	assert.Equal(t, len(b), InodeSize)

	got, err := DecodeInode(b)
	assert.Nil(t, err)
	assert.Equal(t, *got, *ino)
	assert.Equal(t, got.Type(), TypeRegular)
	assert.Equal(t, got.Mode(), uint16(0644))
}

func TestDecodeInodeTooShort(t *testing.T) {
	_, err := DecodeInode(make([]byte, InodeSize-1))
	assert.NotNil(t, err)
}

func TestDirentRoundTrip(t *testing.T) {
	d := &Dirent{Name: "hello.txt", Inode: 42}
	b := EncodeDirent(d)
	assert.Equal(t, len(b), DirentSize)

	got, err := DecodeDirent(b)
	assert.Nil(t, err)
	assert.Equal(t, got.Name, "hello.txt")
	assert.Equal(t, got.Inode, uint64(42))
}

func TestDirentMaxNameLen(t *testing.T) {
	name := make([]byte, MaxNameLen)
	for i := range name {
		name[i] = 'a'
	}
	d := &Dirent{Name: string(name), Inode: 7}
	got, err := DecodeDirent(EncodeDirent(d))
	assert.Nil(t, err)
	assert.Equal(t, got.Name, string(name))
}

func TestSlotTableRoundTrip(t *testing.T) {
	var slots [N]uint64
	slots[0] = 1
	slots[1] = Invalid
	slots[N-1] = 99
	b := EncodeSlotTable(slots)
	assert.Equal(t, len(b), BlockSize)

	got, err := DecodeSlotTable(b)
	assert.Nil(t, err)
	assert.Equal(t, got, slots)
}
