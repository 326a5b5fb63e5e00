package nandfs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xnandfs/conf"
	"github.com/zhukovaskychina/xnandfs/nandfs/driver"
	"github.com/zhukovaskychina/xnandfs/nandfs/inode"
)

func newTestFS(t *testing.T, blocks int) *FileSystem {
	cfg := conf.NewCfg()
	cfg.DiskBlocks = blocks
	fs, err := NewFileSystem(cfg)
	require.NoError(t, err)
	fs.Format()
	require.NoError(t, fs.Mount())
	return fs
}

func fill(value byte, count int) []byte {
	buf := make([]byte, count)
	for i := range buf {
		buf[i] = value
	}
	return buf
}

func TestBasicWriteRead(t *testing.T) {
	fs := newTestFS(t, 32)
	in := fs.InodeManager().IAlloc()

	require.True(t, in.Write(0, 100, fill(22, 100)))
	assert.Equal(t, uint32(100), in.Size)

	var buf []byte
	assert.Equal(t, 100, in.ReadAll(&buf))
	assert.Equal(t, fill(22, 100), buf)
}

func TestOverlapWrite(t *testing.T) {
	fs := newTestFS(t, 32)
	in := fs.InodeManager().IAlloc()

	require.True(t, in.Write(0, 100, fill(22, 100)))
	require.True(t, in.Write(13, 27, fill(31, 27)))

	var buf []byte
	assert.Equal(t, 100, in.ReadAll(&buf))
	require.Len(t, buf, 100)
	assert.Equal(t, fill(22, 13), buf[0:13])
	assert.Equal(t, fill(31, 27), buf[13:40])
	assert.Equal(t, fill(22, 60), buf[40:100])
}

func TestSuffixSplit(t *testing.T) {
	fs := newTestFS(t, 32)
	in := fs.InodeManager().IAlloc()

	require.True(t, in.Write(0, 100, fill(22, 100)))
	require.True(t, in.Write(89, 10, fill(51, 10)))

	require.Len(t, in.Data, 3)
	assert.Equal(t, uint32(0), in.Data[0].Offset)
	assert.Equal(t, uint32(89), in.Data[0].Len)
	assert.Equal(t, uint32(89), in.Data[1].Offset)
	assert.Equal(t, uint32(10), in.Data[1].Len)
	assert.Equal(t, uint32(99), in.Data[2].Offset)
	assert.Equal(t, uint32(1), in.Data[2].Len)
	assert.Equal(t, uint32(100), in.Size)

	var buf []byte
	assert.Equal(t, 100, in.ReadAll(&buf))
	assert.Equal(t, fill(22, 89), buf[0:89])
	assert.Equal(t, fill(51, 10), buf[89:99])
	assert.Equal(t, byte(22), buf[99])
}

func TestBigWrite(t *testing.T) {
	fs := newTestFS(t, 32)
	in := fs.InodeManager().IAlloc()

	require.True(t, in.Write(0, 100, fill(22, 100)))
	require.True(t, in.Write(13, 27, fill(31, 27)))
	require.True(t, in.Write(5, 10000, fill(37, 10000)))

	assert.Equal(t, uint32(10005), in.Size)

	var buf []byte
	assert.Equal(t, 8000, in.Read(50, 8000, &buf))
	assert.Equal(t, fill(37, 8000), buf)

	assert.Equal(t, 10005, in.ReadAll(&buf))
	assert.Equal(t, fill(22, 5), buf[0:5])
	assert.Equal(t, fill(37, 10000), buf[5:])
}

func TestReadOutOfRange(t *testing.T) {
	fs := newTestFS(t, 32)
	in := fs.InodeManager().IAlloc()
	require.True(t, in.Write(0, 10, fill(1, 10)))

	var buf []byte
	assert.Equal(t, -1, in.Read(10, 1, &buf))
	assert.Equal(t, -1, in.Read(100, 1, &buf))
	// 越过文件尾截断
	assert.Equal(t, 5, in.Read(5, 100, &buf))
	assert.False(t, in.Write(11, 1, fill(1, 1)))
}

func TestInsertShifts(t *testing.T) {
	fs := newTestFS(t, 32)
	in := fs.InodeManager().IAlloc()

	require.True(t, in.Insert(0, 100, fill(22, 100)))
	require.True(t, in.Insert(40, 30, fill(31, 30)))
	require.True(t, in.Insert(45, 10, fill(51, 10)))
	require.True(t, in.Insert(35, 30, fill(21, 30)))

	assert.Equal(t, uint32(170), in.Size)

	var buf []byte
	assert.Equal(t, 170, in.ReadAll(&buf))
	expected := bytes.Join([][]byte{
		fill(22, 35),
		fill(21, 30),
		fill(22, 5),
		fill(31, 5),
		fill(51, 10),
		fill(31, 25),
		fill(22, 60),
	}, nil)
	assert.Equal(t, expected, buf)
}

func TestTruncateMiddle(t *testing.T) {
	fs := newTestFS(t, 32)
	in := fs.InodeManager().IAlloc()

	require.True(t, in.Insert(0, 100, fill(22, 100)))
	require.True(t, in.Insert(40, 30, fill(31, 30)))
	require.True(t, in.Insert(45, 10, fill(51, 10)))
	require.True(t, in.Truncate(30, 100))

	assert.Equal(t, uint32(40), in.Size)
	var buf []byte
	assert.Equal(t, 40, in.ReadAll(&buf))
	assert.Equal(t, fill(22, 40), buf)
}

func TestTruncateToEnd(t *testing.T) {
	fs := newTestFS(t, 32)
	in := fs.InodeManager().IAlloc()

	require.True(t, in.Write(0, 5000, fill(9, 5000)))
	require.True(t, in.TruncateToEnd(100))
	assert.Equal(t, uint32(100), in.Size)

	var buf []byte
	assert.Equal(t, 100, in.ReadAll(&buf))
	assert.Equal(t, fill(9, 100), buf)
}

func TestModifyStatAndDup(t *testing.T) {
	fs := newTestFS(t, 32)
	manager := fs.InodeManager()
	in := manager.IAlloc()

	stat := in.GetStat()
	stat.FileType = inode.FileTypeDirectory
	stat.Uid = 100
	stat.Gid = 44
	stat.NLink = 1
	require.True(t, in.ModifyStat(stat))

	reloaded := fs.CoreManager().GetInode(in.Ino)
	assert.Equal(t, uint32(100), reloaded.Uid)
	assert.Equal(t, uint16(44), reloaded.Gid)
	assert.Equal(t, inode.FileTypeDirectory, reloaded.FileType)

	require.True(t, in.Dup())
	assert.Equal(t, uint8(2), in.NLink)

	assert.Panics(t, func() {
		bad := in.GetStat()
		bad.Ino = 9999
		in.ModifyStat(bad)
	})
}

func TestDeleteDirtiesPages(t *testing.T) {
	fs := newTestFS(t, 32)
	core := fs.CoreManager()
	in := fs.InodeManager().IAlloc()

	require.True(t, in.Write(0, 3*driver.PageSize, fill(5, 3*driver.PageSize)))
	require.Len(t, in.Data, 1)

	require.True(t, in.Delete())
	assert.False(t, in.Valid)

	// 页转dirty: BIT仍used, PIT归零
	for address := uint32(0); address < 3; address++ {
		assert.True(t, core.BitGet(address))
		assert.Equal(t, uint32(0), core.PitGet(address))
	}
}

func TestInodeCacheRefCounting(t *testing.T) {
	fs := newTestFS(t, 32)
	manager := fs.InodeManager()

	first := manager.IAlloc()
	assert.Equal(t, uint32(1), first.Ino)
	second := manager.IAlloc()
	assert.Equal(t, uint32(2), second.Ino)

	link := manager.IGet(2)
	assert.Same(t, second, link)
	assert.Equal(t, uint8(2), link.RefCnt)

	manager.IDup(link)
	assert.Equal(t, uint8(3), link.RefCnt)
	manager.IPut(link)
	assert.Equal(t, uint8(2), link.RefCnt)
}

func TestInodeCacheExhaustionPanics(t *testing.T) {
	fs := newTestFS(t, 32)
	manager := fs.InodeManager()

	for i := 0; i < inode.InodeCacheSlots; i++ {
		manager.IAlloc()
	}
	assert.Panics(t, func() {
		manager.IAlloc()
	})
}

// BIT/PIT一致性: 有主页必为used
func assertTablesCoherent(t *testing.T, fs *FileSystem) {
	core := fs.CoreManager()
	for address := uint32(0); address < core.MainPages(); address++ {
		if core.PitGet(address) != 0 {
			assert.True(t, core.BitGet(address), "address %d owned but clean", address)
		}
	}
}

func TestForwardGCReclaimsAndPreserves(t *testing.T) {
	fs := newTestFS(t, 8) // 主数据区3块
	manager := fs.InodeManager()
	core := fs.CoreManager()

	pg := driver.PageSize
	a := manager.IAlloc()
	require.True(t, a.Write(0, uint32(110*pg), fill(1, 110*pg)))
	b := manager.IAlloc()
	require.True(t, b.Write(0, uint32(10*pg), fill(2, 10*pg)))
	c := manager.IAlloc()
	require.True(t, c.Write(0, uint32(115*pg), fill(3, 115*pg)))
	d := manager.IAlloc()
	require.True(t, d.Write(0, uint32(119*pg), fill(4, 119*pg)))

	// 腾出块0的110页dirty空间
	require.True(t, a.Delete())

	// 任何块都放不下20页, 必须先回收块0并搬走b的10页
	e := manager.IAlloc()
	require.True(t, e.Write(0, uint32(20*pg), fill(5, 20*pg)))

	var buf []byte
	require.Equal(t, 10*pg, b.ReadAll(&buf))
	assert.Equal(t, fill(2, 10*pg), buf)
	require.Equal(t, 115*pg, c.ReadAll(&buf))
	assert.Equal(t, fill(3, 115*pg), buf)
	require.Equal(t, 119*pg, d.ReadAll(&buf))
	assert.Equal(t, fill(4, 119*pg), buf)
	require.Equal(t, 20*pg, e.ReadAll(&buf))
	assert.Equal(t, fill(5, 20*pg), buf)

	assertTablesCoherent(t, fs)

	// e落在被回收的块0起始处
	assert.Equal(t, e.Ino, core.PitGet(0))
	assert.Equal(t, e.Ino, core.PitGet(19))
}

func TestManualGCPlanStability(t *testing.T) {
	fs := newTestFS(t, 8)
	manager := fs.InodeManager()
	core := fs.CoreManager()

	pg := driver.PageSize
	victimData := fill(7, 4*pg)
	a := manager.IAlloc()
	require.True(t, a.Write(0, uint32(4*pg), fill(6, 4*pg)))
	b := manager.IAlloc()
	require.True(t, b.Write(0, uint32(4*pg), victimData))
	require.True(t, a.Delete())

	plan := core.GeneratePlan()
	require.NotNil(t, plan)
	core.DisposeGcGroup(plan)

	// 受害块整体clean, b的数据在新位置但虚拟地址不变
	for address := uint32(0); address < 128; address++ {
		assert.False(t, core.BitGet(address))
		assert.Equal(t, uint32(0), core.PitGet(address))
	}
	var buf []byte
	require.Equal(t, 4*pg, b.ReadAll(&buf))
	assert.Equal(t, victimData, buf)
	assertTablesCoherent(t, fs)
}

func TestNoInPlaceOverwrite(t *testing.T) {
	fs := newTestFS(t, 32)
	core := fs.CoreManager()
	in := fs.InodeManager().IAlloc()

	require.True(t, in.Write(0, 100, fill(1, 100)))
	firstPhys := uint32(0)
	assert.True(t, core.BitGet(firstPhys))

	// 覆盖写走copy-on-write: 原页转dirty, 新页启用
	require.True(t, in.Write(0, 100, fill(2, 100)))
	assert.Equal(t, uint32(0), core.PitGet(firstPhys))
	assert.True(t, core.BitGet(firstPhys))
	assert.Equal(t, in.Ino, core.PitGet(1))

	var buf []byte
	require.Equal(t, 100, in.ReadAll(&buf))
	assert.Equal(t, fill(2, 100), buf)
}

func TestUnmountRemountKeepsInodes(t *testing.T) {
	dir := t.TempDir()
	cfg := conf.NewCfg()
	cfg.DiskBlocks = 16
	cfg.DataDir = dir
	cfg.DiskFile = "nand.img"
	cfg.KvCompression = "snappy"

	fs, err := NewFileSystem(cfg)
	require.NoError(t, err)
	fs.Format()
	require.NoError(t, fs.Mount())

	in := fs.InodeManager().IAlloc()
	ino := in.Ino
	require.True(t, in.Write(0, 5000, fill(42, 5000)))
	require.NoError(t, fs.Unmount())

	fs2, err := NewFileSystem(cfg)
	require.NoError(t, err)
	require.NoError(t, fs2.Mount())
	reloaded := fs2.InodeManager().IGet(ino)
	assert.Equal(t, uint32(5000), reloaded.Size)
	var buf []byte
	require.Equal(t, 5000, reloaded.ReadAll(&buf))
	assert.Equal(t, fill(42, 5000), buf)
	require.NoError(t, fs2.Unmount())
}
