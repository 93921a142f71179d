package fs

import (
	"testing"

	"github.com/stvp/assert"

	"sixfs/hostcontainer"
	"sixfs/inode"
	"sixfs/wire"
)

func mustMount(t *testing.T) *Filesystem {
	f, err := Mount(Config{Kind: hostcontainer.KindMemory})
	assert.Nil(t, err)
	return f
}

func TestMountFormatsRootDirectory(t *testing.T) {
	f := mustMount(t)
	attr, err := f.Getattr("/")
	assert.Nil(t, err)
	assert.Equal(t, attr.Type, wire.TypeDirectory)
}

func TestMkdirCreateWriteReadRoundTrip(t *testing.T) {
	f := mustMount(t)

	_, err := f.Mkdir("/a", 0755, 1000, 1000)
	assert.Nil(t, err)
	_, err = f.Create("/a/file.txt", 0644, 1000, 1000)
	assert.Nil(t, err)

	fh, _, err := f.Open("/a/file.txt", false)
	assert.Nil(t, err)
	n, err := f.Write(fh, []byte("hello world"), 0)
	assert.Nil(t, err)
	assert.Equal(t, n, 11)
	assert.Nil(t, f.Close(fh))

	fh2, _, err := f.Open("/a/file.txt", false)
	assert.Nil(t, err)
	buf := make([]byte, 11)
	n, err = f.Read(fh2, buf, 0)
	assert.Nil(t, err)
	assert.Equal(t, string(buf[:n]), "hello world")
	assert.Nil(t, f.Close(fh2))
}

func TestReaddirListsEntries(t *testing.T) {
	f := mustMount(t)
	_, err := f.Mkdir("/dir", 0755, 0, 0)
	assert.Nil(t, err)
	_, err = f.Create("/dir/a", 0644, 0, 0)
	assert.Nil(t, err)
	_, err = f.Create("/dir/b", 0644, 0, 0)
	assert.Nil(t, err)

	fh, err := f.Opendir("/dir")
	assert.Nil(t, err)
	entries, err := f.Readdir(fh)
	assert.Nil(t, err)
	assert.Equal(t, len(entries), 2)
	assert.Nil(t, f.Closedir(fh))
}

func TestUnlinkRemovesName(t *testing.T) {
	f := mustMount(t)
	_, err := f.Create("/f", 0644, 0, 0)
	assert.Nil(t, err)
	assert.Nil(t, f.Unlink("/f"))
	_, err = f.Getattr("/f")
	assert.NotNil(t, err)
}

// TestDeferredUnlinkSurvivesOpenHandle covers S5: a handle opened
// before unlink keeps reading the pre-unlink bytes until Close.
func TestDeferredUnlinkSurvivesOpenHandle(t *testing.T) {
	f := mustMount(t)
	_, err := f.Create("/f", 0644, 0, 0)
	assert.Nil(t, err)

	fh, _, err := f.Open("/f", false)
	assert.Nil(t, err)
	_, err = f.Write(fh, []byte("still here"), 0)
	assert.Nil(t, err)

	assert.Nil(t, f.Unlink("/f"))

	buf := make([]byte, 10)
	n, err := f.Read(fh, buf, 0)
	assert.Nil(t, err)
	assert.Equal(t, string(buf[:n]), "still here")

	_, err = f.Getattr("/f")
	assert.NotNil(t, err)

	assert.Nil(t, f.Close(fh))
}

// TestRmdirFreesDirectoryInode guards against the directory-nlink leak
// invariant 3/§8 describes: an empty directory is created with
// Nlink=2 ("." plus its parent entry), so removing it must drop both
// at once and actually free the inode chunk, not just decrement to 1
// and leave it allocated forever.
func TestRmdirFreesDirectoryInode(t *testing.T) {
	f := mustMount(t)
	before := f.stores.Inode.LiveSize()

	_, err := f.Mkdir("/d", 0755, 0, 0)
	assert.Nil(t, err)
	assert.Equal(t, f.stores.Inode.LiveSize(), before+1)

	assert.Nil(t, f.Rmdir("/d"))
	assert.Equal(t, f.stores.Inode.LiveSize(), before)

	_, err = f.Getattr("/d")
	assert.NotNil(t, err)
}

// TestRenameExchange covers S4: two existing names swap targets
// atomically, each keeping its own name.
func TestRenameExchange(t *testing.T) {
	f := mustMount(t)
	_, err := f.Create("/a", 0644, 0, 0)
	assert.Nil(t, err)
	_, err = f.Create("/b", 0644, 0, 0)
	assert.Nil(t, err)

	fhA, _, err := f.Open("/a", false)
	assert.Nil(t, err)
	_, err = f.Write(fhA, []byte("AAAA"), 0)
	assert.Nil(t, err)
	assert.Nil(t, f.Close(fhA))

	fhB, _, err := f.Open("/b", false)
	assert.Nil(t, err)
	_, err = f.Write(fhB, []byte("BBBB"), 0)
	assert.Nil(t, err)
	assert.Nil(t, f.Close(fhB))

	assert.Nil(t, f.Rename("/a", "/b", RenameExchange))

	fhA2, _, err := f.Open("/a", false)
	assert.Nil(t, err)
	buf := make([]byte, 4)
	_, err = f.Read(fhA2, buf, 0)
	assert.Nil(t, err)
	assert.Equal(t, string(buf), "BBBB")
	assert.Nil(t, f.Close(fhA2))

	fhB2, _, err := f.Open("/b", false)
	assert.Nil(t, err)
	_, err = f.Read(fhB2, buf, 0)
	assert.Nil(t, err)
	assert.Equal(t, string(buf), "AAAA")
	assert.Nil(t, f.Close(fhB2))
}

func TestRenameNoReplaceFailsOnExisting(t *testing.T) {
	f := mustMount(t)
	_, err := f.Create("/a", 0644, 0, 0)
	assert.Nil(t, err)
	_, err = f.Create("/b", 0644, 0, 0)
	assert.Nil(t, err)
	err = f.Rename("/a", "/b", RenameNoReplace)
	assert.NotNil(t, err)
}

func TestRenameNormalMoveAcrossDirs(t *testing.T) {
	f := mustMount(t)
	_, err := f.Mkdir("/d1", 0755, 0, 0)
	assert.Nil(t, err)
	_, err = f.Mkdir("/d2", 0755, 0, 0)
	assert.Nil(t, err)
	_, err = f.Create("/d1/x", 0644, 0, 0)
	assert.Nil(t, err)

	assert.Nil(t, f.Rename("/d1/x", "/d2/y", RenameNormal))

	_, err = f.Getattr("/d1/x")
	assert.NotNil(t, err)
	attr, err := f.Getattr("/d2/y")
	assert.Nil(t, err)
	assert.Equal(t, attr.Type, wire.TypeRegular)
}

func TestSymlinkReadlink(t *testing.T) {
	f := mustMount(t)
	_, err := f.Symlink("/link", "/target/path", 0, 0)
	assert.Nil(t, err)
	target, err := f.Readlink("/link")
	assert.Nil(t, err)
	assert.Equal(t, target, "/target/path")
}

func TestHardLink(t *testing.T) {
	f := mustMount(t)
	_, err := f.Create("/a", 0644, 0, 0)
	assert.Nil(t, err)
	_, err = f.Link("/a", "/b")
	assert.Nil(t, err)

	attrA, err := f.Getattr("/a")
	assert.Nil(t, err)
	assert.Equal(t, attrA.Nlink, uint32(2))
}

func TestXattrPathWrappers(t *testing.T) {
	f := mustMount(t)
	_, err := f.Create("/a", 0644, 0, 0)
	assert.Nil(t, err)
	assert.Nil(t, f.XattrSet("/a", "user.k", []byte("v"), inode.XattrSetDefault))
	buf := make([]byte, 8)
	n, err := f.XattrGet("/a", "user.k", buf)
	assert.Nil(t, err)
	assert.Equal(t, string(buf[:n]), "v")
}

func TestStatvfsReportsBudget(t *testing.T) {
	f, err := Mount(Config{Kind: hostcontainer.KindMemory, MaxSizeBytes: 1 << 20})
	assert.Nil(t, err)
	st, err := f.Statvfs()
	assert.Nil(t, err)
	assert.Equal(t, st.BlockSize, uint64(wire.BlockSize))
	assert.True(t, st.Blocks > 0)
}

// TestFaultOnOneInodeDoesNotDisturbOthers covers S6's broader property
// (a fault handling one request never perturbs the filesystem's
// ability to serve unrelated ones): a bogus lookup returns ENOENT
// without raising the emergency flag or affecting an unrelated file's
// own read/write traffic. chunkstore_test.go's
// TestEncryptedTamperIsEIO covers the lower-level AEAD-authentication
// half of the same property, where the raw host container is
// reachable for corruption.
func TestFaultOnOneInodeDoesNotDisturbOthers(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	f, err := Mount(Config{Kind: hostcontainer.KindMemory, Key: key})
	assert.Nil(t, err)

	_, err = f.Create("/ok", 0644, 0, 0)
	assert.Nil(t, err)

	_, err = f.Getattr("/does-not-exist")
	assert.NotNil(t, err)
	assert.Equal(t, f.Emergency(), EmergencyNone)

	fhOk, _, err := f.Open("/ok", false)
	assert.Nil(t, err)
	_, err = f.Write(fhOk, []byte("fine"), 0)
	assert.Nil(t, err)
	buf := make([]byte, 4)
	_, err = f.Read(fhOk, buf, 0)
	assert.Nil(t, err)
	assert.Equal(t, string(buf), "fine")
	assert.Nil(t, f.Close(fhOk))
	assert.Equal(t, f.Emergency(), EmergencyNone)
}
