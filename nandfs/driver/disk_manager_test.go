package driver

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCacheBatch(t *testing.T) {
	writeBuf := NewWriteCache()
	page := make([]byte, PageSize)
	for i := uint32(0); i < PagesPerBlock; i++ {
		writeBuf.Write(i, page)
	}
	assert.True(t, writeBuf.NeedSync())
	writeBuf.Sync()
	assert.False(t, writeBuf.NeedSync())
	assert.Equal(t, 0, writeBuf.Len())
}

func TestWriteCacheOverwriteAndRecall(t *testing.T) {
	writeBuf := NewWriteCache()
	pageA := make([]byte, PageSize)
	pageA[0] = 1
	pageB := make([]byte, PageSize)
	pageB[0] = 2

	writeBuf.Write(100, pageA)
	writeBuf.Write(101, pageA)
	writeBuf.Write(100, pageB)
	assert.Equal(t, 2, writeBuf.Len())
	data, ok := writeBuf.Read(100)
	require.True(t, ok)
	assert.Equal(t, byte(2), data[0])

	// 撤回后下标重排, 剩余暂存仍可按地址命中
	writeBuf.RecallWrite(100)
	assert.False(t, writeBuf.Contains(100))
	data, ok = writeBuf.Read(101)
	require.True(t, ok)
	assert.Equal(t, byte(1), data[0])
	assert.Equal(t, 1, writeBuf.Len())
}

func TestDiskManagerStagingAndMerge(t *testing.T) {
	manager := NewDiskManager(NewFakeDisk(4096))

	page := make([]byte, PageSize)
	for i := range page {
		page[i] = 1
	}
	manager.DiskWrite(100, page)

	// 未满一批时盘上仍为空, 读路径合并暂存写
	block := manager.Read(0)
	assert.Equal(t, page, block[100])

	manager.DiskErase(0)
	block = manager.Read(0)
	assert.Equal(t, make([]byte, PageSize), block[100])
}

func TestDiskManagerAutoFlush(t *testing.T) {
	disk := NewFakeDisk(4096)
	manager := NewDiskManager(disk)

	page := make([]byte, PageSize)
	page[7] = 9
	for i := uint32(0); i < PagesPerBlock; i++ {
		manager.DiskWrite(PagesPerBlock+i, page)
	}
	// 攒满128页后自动下盘
	block := disk.ReadBlock(1)
	assert.Equal(t, page, block[0])
	assert.Equal(t, page, block[127])
}

func TestFakeDiskWriteNotCleanPanics(t *testing.T) {
	disk := NewFakeDisk(4096)
	page := make([]byte, PageSize)
	page[0] = 1
	disk.WritePage(5, page)
	assert.Panics(t, func() {
		disk.WritePage(5, page)
	})
	disk.EraseBlock(0)
	assert.NotPanics(t, func() {
		disk.WritePage(5, page)
	})
}

func TestFileDiskRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nand.img")
	disk, err := NewFileDisk(path, 1024)
	require.NoError(t, err)

	page := make([]byte, PageSize)
	page[0] = 42
	disk.WritePage(130, page)
	block := disk.ReadBlock(1)
	assert.Equal(t, page, block[2])
	require.NoError(t, disk.Close())

	// 重新打开后数据仍在
	disk, err = NewFileDisk(path, 1024)
	require.NoError(t, err)
	block = disk.ReadBlock(1)
	assert.Equal(t, page, block[2])

	disk.EraseBlock(1)
	block = disk.ReadBlock(1)
	assert.Equal(t, make([]byte, PageSize), block[2])
	require.NoError(t, disk.Close())
}
