package common_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xnandfs/conf"
	"github.com/zhukovaskychina/xnandfs/nandfs"
	"github.com/zhukovaskychina/xnandfs/nandfs/common"
	"github.com/zhukovaskychina/xnandfs/nandfs/inode"
)

func newTestFS(t *testing.T) *nandfs.FileSystem {
	cfg := conf.NewCfg()
	cfg.DiskBlocks = 16
	fs, err := nandfs.NewFileSystem(cfg)
	require.NoError(t, err)
	fs.Format()
	require.NoError(t, fs.Mount())
	return fs
}

func newTestDir(t *testing.T, fs *nandfs.FileSystem) *inode.Inode {
	dir := fs.InodeManager().IAlloc()
	stat := dir.GetStat()
	stat.FileType = inode.FileTypeDirectory
	stat.NLink = 1
	require.True(t, dir.ModifyStat(stat))
	return dir
}

func TestDirectoryParserRoundTrip(t *testing.T) {
	entries := []*common.DirectoryInodeEntry{
		{FileName: "a.txt", Ino: 10},
		{FileName: "abc.go", Ino: 11},
		{FileName: "test.txt", Ino: 12},
	}
	var data []byte
	for _, entry := range entries {
		data = append(data, common.EncodeDirectoryEntry(entry)...)
	}

	parser := common.NewDirectoryParser(data)
	assert.Equal(t, 3, parser.Len())
	for i := 0; ; i++ {
		entry, ok := parser.Next()
		if !ok {
			assert.Equal(t, 3, i)
			break
		}
		assert.Equal(t, entries[i], entry)
	}
}

func TestDirectoryParserGuards(t *testing.T) {
	assert.Panics(t, func() {
		common.NewDirectoryParser(make([]byte, 13))
	})
	assert.Panics(t, func() {
		common.EncodeDirectoryEntry(&common.DirectoryInodeEntry{FileName: "0123456789ab", Ino: 1})
	})
	// ino非零但名字为空视为损坏
	raw := make([]byte, common.DirEntrySize)
	raw[3] = 9
	assert.Panics(t, func() {
		common.DecodeDirectoryEntry(raw)
	})
}

func TestDirLinkLookupUnlink(t *testing.T) {
	fs := newTestFS(t)
	dir := newTestDir(t, fs)

	require.True(t, common.DirLink(dir, 10, "test1.txt"))
	require.True(t, common.DirLink(dir, 11, "test2.txt"))
	require.True(t, common.DirLink(dir, 12, "test3.txt"))
	// 重名拒绝
	assert.False(t, common.DirLink(dir, 13, "test1.txt"))

	require.True(t, common.DirUnlink(dir, 11, "test2.txt"))

	ino, index, ok := common.DirLookup(dir, "test1.txt")
	require.True(t, ok)
	assert.Equal(t, uint32(10), ino)
	assert.Equal(t, 0, index)

	_, _, ok = common.DirLookup(dir, "test2.txt")
	assert.False(t, ok)

	ino, index, ok = common.DirLookup(dir, "test3.txt")
	require.True(t, ok)
	assert.Equal(t, uint32(12), ino)
	assert.Equal(t, 1, index)
}

func TestDirUnlinkMissing(t *testing.T) {
	fs := newTestFS(t)
	dir := newTestDir(t, fs)
	assert.False(t, common.DirUnlink(dir, 5, "nope"))
}

func TestSkipElem(t *testing.T) {
	rest, name, ok := common.SkipElem("a/bb/c")
	require.True(t, ok)
	assert.Equal(t, "bb/c", rest)
	assert.Equal(t, "a", name)

	rest, name, ok = common.SkipElem("///a//bb")
	require.True(t, ok)
	assert.Equal(t, "bb", rest)
	assert.Equal(t, "a", name)

	rest, name, ok = common.SkipElem("a")
	require.True(t, ok)
	assert.Equal(t, "", rest)
	assert.Equal(t, "a", name)

	_, _, ok = common.SkipElem("")
	assert.False(t, ok)
	_, _, ok = common.SkipElem("////")
	assert.False(t, ok)
}

func TestPathResolution(t *testing.T) {
	fs := newTestFS(t)
	manager := fs.InodeManager()

	root := fs.MakeRoot()
	require.Equal(t, uint32(common.RootIno), root.Ino)

	sub := newTestDir(t, fs)
	require.True(t, common.DirLink(root, sub.Ino, "etc"))

	file := manager.IAlloc()
	require.True(t, file.Write(0, 4, []byte("conf")))
	require.True(t, common.DirLink(sub, file.Ino, "nandfs.ini"))

	resolved, ok := common.NameI(manager, "/etc/nandfs.ini")
	require.True(t, ok)
	assert.Equal(t, file.Ino, resolved.Ino)
	manager.IPut(resolved)

	parent, name, ok := common.NameIParent(manager, "/etc/nandfs.ini")
	require.True(t, ok)
	assert.Equal(t, sub.Ino, parent.Ino)
	assert.Equal(t, "nandfs.ini", name)
	manager.IPut(parent)

	_, ok = common.NameI(manager, "/etc/missing")
	assert.False(t, ok)
	_, ok = common.NameI(manager, "relative/path")
	assert.False(t, ok)
}

func TestFileTable(t *testing.T) {
	fs := newTestFS(t)
	manager := fs.InodeManager()
	table := fs.FileTable()

	in := manager.IAlloc()
	require.True(t, in.Write(0, 11, []byte("hello world")))

	f := table.FileAlloc(in, true, true)
	require.NotNil(t, f)

	var buf []byte
	assert.Equal(t, 5, f.FileRead(5, &buf))
	assert.Equal(t, []byte("hello"), buf)
	assert.Equal(t, 6, f.FileRead(100, &buf))
	assert.Equal(t, []byte(" world"), buf)

	f.Off = 0
	require.True(t, f.FileWrite([]byte("HELLO")))
	assert.Equal(t, uint32(5), f.Off)

	stat, ok := f.FileStat()
	require.True(t, ok)
	assert.Equal(t, uint32(11), stat.Size)

	dup := table.FileDup(f)
	assert.Equal(t, uint8(2), dup.RefCnt)
	table.FileClose(f, manager)
	assert.Equal(t, uint8(1), f.RefCnt)
	table.FileClose(f, manager)
	assert.Equal(t, uint8(0), f.RefCnt)
	assert.Nil(t, f.Inode)
}
