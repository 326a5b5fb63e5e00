package nandfs

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xnandfs/conf"
	"github.com/zhukovaskychina/xnandfs/logger"
	"github.com/zhukovaskychina/xnandfs/nandfs/buffer_pool"
	"github.com/zhukovaskychina/xnandfs/nandfs/common"
	"github.com/zhukovaskychina/xnandfs/nandfs/core"
	"github.com/zhukovaskychina/xnandfs/nandfs/driver"
	"github.com/zhukovaskychina/xnandfs/nandfs/inode"
	"github.com/zhukovaskychina/xnandfs/nandfs/kv"
)

const inodeSnapshotFile = "inodes.kv"

// FileSystem 自底向上绑定全部组件的装配体
type FileSystem struct {
	cfg          *conf.Cfg
	diskManager  *driver.DiskManager
	bufferPool   *buffer_pool.BufferPool
	store        *kv.InodeStore
	coreManager  *core.CoreManager
	inodeManager *inode.InodeManager
	fileTable    *common.FileTable
}

// NewFileSystem 按配置装配文件系统; disk-file为空时使用内存盘
func NewFileSystem(cfg *conf.Cfg) (*FileSystem, error) {
	totalBlocks := uint32(cfg.DiskBlocks)
	totalPages := totalBlocks * driver.PagesPerBlock

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, errors.Annotatef(err, "create data dir %s", cfg.DataDir)
		}
	}

	var dev driver.PageDevice
	if cfg.DiskFile != "" {
		path := cfg.DiskFile
		if cfg.DataDir != "" {
			path = filepath.Join(cfg.DataDir, cfg.DiskFile)
		}
		fileDisk, err := driver.NewFileDisk(path, totalPages)
		if err != nil {
			return nil, errors.Trace(err)
		}
		dev = fileDisk
	} else {
		dev = driver.NewFakeDisk(totalPages)
	}

	diskManager := driver.NewDiskManager(dev)
	bufferPool := buffer_pool.NewBufferPool(cfg.BufferPoolSize, diskManager)
	store := kv.NewInodeStore(kv.NewRecordCodec(kv.ParseCompression(cfg.KvCompression)))
	coreManager, err := core.NewCoreManager(bufferPool, store, totalBlocks)
	if err != nil {
		dev.Close()
		return nil, errors.Trace(err)
	}

	return &FileSystem{
		cfg:          cfg,
		diskManager:  diskManager,
		bufferPool:   bufferPool,
		store:        store,
		coreManager:  coreManager,
		inodeManager: inode.NewInodeManager(coreManager),
		fileTable:    common.NewFileTable(),
	}, nil
}

// Format 擦出全新卷
func (fs *FileSystem) Format() {
	fs.coreManager.Format()
}

// Mount 装载元数据与inode库
func (fs *FileSystem) Mount() error {
	if fs.cfg.DataDir != "" {
		if err := fs.store.LoadFromFile(filepath.Join(fs.cfg.DataDir, inodeSnapshotFile)); err != nil {
			return errors.Trace(err)
		}
	}
	fs.coreManager.Mount()
	logger.Infof("FileSystem: mounted, buffer pool hit rate %.2f", fs.bufferPool.HitRate())
	return nil
}

// Unmount 落盘inode库与未刷写页, 关闭设备
func (fs *FileSystem) Unmount() error {
	if fs.cfg.DataDir != "" {
		if err := fs.store.SaveToFile(filepath.Join(fs.cfg.DataDir, inodeSnapshotFile)); err != nil {
			return errors.Trace(err)
		}
	}
	return fs.diskManager.Close()
}

func (fs *FileSystem) InodeManager() *inode.InodeManager {
	return fs.inodeManager
}

func (fs *FileSystem) CoreManager() *core.CoreManager {
	return fs.coreManager
}

func (fs *FileSystem) FileTable() *common.FileTable {
	return fs.fileTable
}

func (fs *FileSystem) BufferPool() *buffer_pool.BufferPool {
	return fs.bufferPool
}

// MakeRoot 首次建卷时登记根目录(1号inode)
func (fs *FileSystem) MakeRoot() *inode.Inode {
	root := fs.inodeManager.IAlloc()
	if root.Ino != common.RootIno {
		panic("FileSystem: root must take ino 1 on a fresh volume")
	}
	stat := root.GetStat()
	stat.FileType = inode.FileTypeDirectory
	stat.NLink = 1
	root.ModifyStat(stat)
	return root
}
