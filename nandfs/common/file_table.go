package common

import (
	"sync"

	"github.com/zhukovaskychina/xnandfs/nandfs/inode"
)

// FileTableSlots 全局打开文件表槽位数
const FileTableSlots = 100

// FileTable 进程级打开文件表
type FileTable struct {
	mu    sync.Mutex
	files []*File
}

func NewFileTable() *FileTable {
	files := make([]*File, 0, FileTableSlots)
	for i := 0; i < FileTableSlots; i++ {
		files = append(files, &File{})
	}
	return &FileTable{
		files: files,
	}
}

// FileAlloc 取一个空槽并绑定inode
func (t *FileTable) FileAlloc(in *inode.Inode, readable bool, writable bool) *File {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.files {
		if f.RefCnt == 0 {
			f.Off = 0
			f.RefCnt = 1
			f.Readable = readable
			f.Writable = writable
			f.FdType = FdInode
			f.Inode = in
			return f
		}
	}
	return nil
}

// FileDup 引用计数加一
func (t *FileTable) FileDup(f *File) *File {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f.RefCnt == 0 {
		panic("FileTable: dup closed file")
	}
	f.RefCnt++
	return f
}

// FileClose 释放一个引用, 归零后槽位回收
func (t *FileTable) FileClose(f *File, manager *inode.InodeManager) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f.RefCnt == 0 {
		panic("FileTable: close closed file")
	}
	f.RefCnt--
	if f.RefCnt == 0 {
		if f.FdType == FdInode && f.Inode != nil {
			manager.IPut(f.Inode)
		}
		f.FdType = FdNone
		f.Inode = nil
		f.Off = 0
	}
}
