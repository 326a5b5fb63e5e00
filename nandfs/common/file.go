package common

import (
	"github.com/zhukovaskychina/xnandfs/nandfs/inode"
)

// FileDescriptorType 文件描述符类型
type FileDescriptorType uint8

const (
	FdNone FileDescriptorType = iota
	FdPipe
	FdInode
	FdDevice
)

// File 打开文件: inode句柄加读写游标
type File struct {
	Off      uint32
	RefCnt   uint8
	Readable bool
	Writable bool
	FdType   FileDescriptorType
	Inode    *inode.Inode
}

// FileStat 返回底层inode的属性
func (f *File) FileStat() (inode.InodeStat, bool) {
	if f.FdType != FdInode || f.Inode == nil {
		return inode.InodeStat{}, false
	}
	return f.Inode.GetStat(), true
}

// FileRead 从游标处读length字节并推进游标
func (f *File) FileRead(length uint32, buf *[]byte) int {
	if !f.Readable || f.FdType != FdInode {
		return -1
	}
	count := f.Inode.Read(f.Off, length, buf)
	if count > 0 {
		f.Off += uint32(count)
	}
	return count
}

// FileWrite 在游标处覆盖写并推进游标
func (f *File) FileWrite(buf []byte) bool {
	if !f.Writable || f.FdType != FdInode {
		return false
	}
	if !f.Inode.Write(f.Off, uint32(len(buf)), buf) {
		return false
	}
	f.Off += uint32(len(buf))
	return true
}
