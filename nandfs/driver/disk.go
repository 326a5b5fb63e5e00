package driver

import (
	"fmt"
	"os"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xnandfs/logger"
)

const (
	// PageSize 页大小, 最小I/O粒度
	PageSize = 4096
	// PagesPerBlock 每个擦除块包含的页数
	PagesPerBlock = 128
	// BlockSize 擦除块字节数
	BlockSize = PageSize * PagesPerBlock
)

// PageDevice 模拟NAND的设备抽象: 整块读, 单页写, 整块擦除。
// 对非clean页写入、越界访问均视为编程错误, 直接panic。
type PageDevice interface {
	ReadBlock(blockNo uint32) [][]byte
	WritePage(address uint32, data []byte)
	EraseBlock(blockNo uint32)
	TotalPages() uint32
	Close() error
}

func isClean(page []byte) bool {
	for _, b := range page {
		if b != 0 {
			return false
		}
	}
	return true
}

// FakeDisk 内存盘, 测试与默认配置使用
type FakeDisk struct {
	size uint32 // 总页数
	data [][]byte
}

func NewFakeDisk(size uint32) *FakeDisk {
	if size%PagesPerBlock != 0 {
		panic("FakeDisk: size must be a whole number of blocks")
	}
	data := make([][]byte, size)
	for i := range data {
		data[i] = make([]byte, PageSize)
	}
	return &FakeDisk{
		size: size,
		data: data,
	}
}

func (d *FakeDisk) ReadBlock(blockNo uint32) [][]byte {
	if (blockNo+1)*PagesPerBlock > d.size {
		panic(fmt.Sprintf("FakeDisk: read block %d out of range", blockNo))
	}
	block := make([][]byte, PagesPerBlock)
	start := blockNo * PagesPerBlock
	for i := uint32(0); i < PagesPerBlock; i++ {
		page := make([]byte, PageSize)
		copy(page, d.data[start+i])
		block[i] = page
	}
	return block
}

func (d *FakeDisk) WritePage(address uint32, data []byte) {
	if address >= d.size {
		panic(fmt.Sprintf("FakeDisk: write page %d out of range", address))
	}
	if len(data) != PageSize {
		panic("FakeDisk: write page with bad size")
	}
	if !isClean(d.data[address]) {
		panic(fmt.Sprintf("FakeDisk: write page %d not clean", address))
	}
	copy(d.data[address], data)
}

func (d *FakeDisk) EraseBlock(blockNo uint32) {
	if (blockNo+1)*PagesPerBlock > d.size {
		panic(fmt.Sprintf("FakeDisk: erase block %d out of range", blockNo))
	}
	start := blockNo * PagesPerBlock
	for i := uint32(0); i < PagesPerBlock; i++ {
		for j := range d.data[start+i] {
			d.data[start+i][j] = 0
		}
	}
}

func (d *FakeDisk) TotalPages() uint32 {
	return d.size
}

func (d *FakeDisk) Close() error {
	return nil
}

// FileDisk 文件盘, 页数据平铺在单个镜像文件中
type FileDisk struct {
	size uint32
	path string
	file *os.File
}

func NewFileDisk(path string, size uint32) (*FileDisk, error) {
	if size%PagesPerBlock != 0 {
		panic("FileDisk: size must be a whole number of blocks")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Annotatef(err, "open disk file %s", path)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Trace(err)
	}
	want := int64(size) * PageSize
	if stat.Size() == 0 {
		if err := file.Truncate(want); err != nil {
			file.Close()
			return nil, errors.Annotatef(err, "initialize disk file %s", path)
		}
		logger.Infof("FileDisk: initialized %s with %d pages", path, size)
	} else if stat.Size() != want {
		file.Close()
		return nil, errors.Annotatef(ErrDiskFileSize, "file %s has %d bytes, want %d", path, stat.Size(), want)
	}
	return &FileDisk{
		size: size,
		path: path,
		file: file,
	}, nil
}

func (d *FileDisk) ReadBlock(blockNo uint32) [][]byte {
	if (blockNo+1)*PagesPerBlock > d.size {
		panic(fmt.Sprintf("FileDisk: read block %d out of range", blockNo))
	}
	raw := make([]byte, BlockSize)
	if _, err := d.file.ReadAt(raw, int64(blockNo)*BlockSize); err != nil {
		logger.Errorf("FileDisk: read block %d: %v", blockNo, err)
		panic(err)
	}
	block := make([][]byte, PagesPerBlock)
	for i := 0; i < PagesPerBlock; i++ {
		block[i] = raw[i*PageSize : (i+1)*PageSize : (i+1)*PageSize]
	}
	return block
}

func (d *FileDisk) WritePage(address uint32, data []byte) {
	if address >= d.size {
		panic(fmt.Sprintf("FileDisk: write page %d out of range", address))
	}
	if len(data) != PageSize {
		panic("FileDisk: write page with bad size")
	}
	current := make([]byte, PageSize)
	if _, err := d.file.ReadAt(current, int64(address)*PageSize); err != nil {
		logger.Errorf("FileDisk: read before write page %d: %v", address, err)
		panic(err)
	}
	if !isClean(current) {
		panic(fmt.Sprintf("FileDisk: write page %d not clean", address))
	}
	if _, err := d.file.WriteAt(data, int64(address)*PageSize); err != nil {
		logger.Errorf("FileDisk: write page %d: %v", address, err)
		panic(err)
	}
}

func (d *FileDisk) EraseBlock(blockNo uint32) {
	if (blockNo+1)*PagesPerBlock > d.size {
		panic(fmt.Sprintf("FileDisk: erase block %d out of range", blockNo))
	}
	zero := make([]byte, BlockSize)
	if _, err := d.file.WriteAt(zero, int64(blockNo)*BlockSize); err != nil {
		logger.Errorf("FileDisk: erase block %d: %v", blockNo, err)
		panic(err)
	}
}

func (d *FileDisk) TotalPages() uint32 {
	return d.size
}

func (d *FileDisk) Close() error {
	if err := d.file.Sync(); err != nil {
		return errors.Trace(err)
	}
	return d.file.Close()
}
