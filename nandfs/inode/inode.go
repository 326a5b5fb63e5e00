package inode

import (
	"fmt"

	"github.com/zhukovaskychina/xnandfs/nandfs/driver"
)

// InodeFileType 文件类型
type InodeFileType uint8

const (
	FileTypeFile InodeFileType = iota
	FileTypeDirectory
	FileTypeSoftLink
	FileTypeHardLink
)

// InodeStat 标量属性视图
type InodeStat struct {
	FileType InodeFileType
	Ino      uint32
	Size     uint32
	Uid      uint32
	Gid      uint16
	RefCnt   uint8
	NLink    uint8
}

// InodeEntry 一段物理连续页承载的字节区间, Address为虚拟页地址。
// 各项按Offset升序且无空洞: 第k项的Offset等于前k项Len之和。
type InodeEntry struct {
	Valid   bool
	Offset  uint32
	Len     uint32 // 字节数
	Size    uint32 // 页数
	Address uint32
}

// Core inode引擎对核心编排器的依赖面
type Core interface {
	AllocateInode() *Inode
	GetInode(ino uint32) *Inode
	DisposeEventGroup(group *InodeEventGroup) *Inode
	ReadData(vAddress uint32) []byte
}

// Inode 内存中的inode。所有修改都表达为事件组交给核心一次性提交,
// 本结构只在提交返回后用结果整体刷新自身。
type Inode struct {
	Valid    bool
	FileType InodeFileType
	Ino      uint32
	Size     uint32
	Uid      uint32
	Gid      uint16
	RefCnt   uint8
	NLink    uint8
	Data     []InodeEntry

	core Core
}

func NewInode() *Inode {
	return &Inode{}
}

func pageCount(length uint32) uint32 {
	return (length + driver.PageSize - 1) / driver.PageSize
}

// ReadAll 读出整个文件
func (inode *Inode) ReadAll(buf *[]byte) int {
	return inode.Read(0, inode.Size, buf)
}

// Read 读[offset, offset+length), 越界起点返回-1, 超出文件尾截断。
// 返回实际读出的字节数。
func (inode *Inode) Read(offset uint32, length uint32, buf *[]byte) int {
	*buf = (*buf)[:0]
	if offset >= inode.Size {
		return -1
	}
	if offset+length > inode.Size {
		length = inode.Size - offset
	}
	count := 0
	remaining := length
	first := true
	for k := range inode.Data {
		entry := &inode.Data[k]
		if entry.Offset+entry.Len <= offset {
			continue
		}
		var data []byte
		if first {
			first = false
			curCount := remaining
			if avail := entry.Offset + entry.Len - offset; avail < curCount {
				curCount = avail
			}
			start := offset - entry.Offset
			data = inode.ReadEntry(entry, start, start+curCount)
		} else {
			curCount := remaining
			if entry.Len < curCount {
				curCount = entry.Len
			}
			data = inode.ReadEntry(entry, 0, curCount)
		}
		*buf = append(*buf, data...)
		remaining -= uint32(len(data))
		count += len(data)
		if remaining == 0 {
			break
		}
	}
	return count
}

// Write 覆盖写[offset, offset+length), offset不得超过文件尾
func (inode *Inode) Write(offset uint32, length uint32, buf []byte) bool {
	if offset > inode.Size {
		return false
	}
	if length == 0 {
		return true
	}
	group := NewInodeEventGroup()
	group.Inode = inode.CopyInode()

	index := int64(0)
	flag := false
	var secondEntry *InodeEntry
	var secondOEntry InodeEntry
	var secondIndex int64

	for k := range inode.Data {
		entry := inode.Data[k]
		if entry.Offset+entry.Len <= offset {
			index++
			continue
		}
		if entry.Offset >= offset+length {
			continue
		}
		validPrev := clampSub(offset, entry.Offset)
		validSuffix := clampSub(entry.Offset+entry.Len, offset+length)
		if validPrev == 0 {
			group.Events = append(group.Events, &DeleteContentInodeEvent{
				Index:    index,
				Size:     entry.Size,
				VAddress: entry.Address,
			})
		} else {
			group.Events = append(group.Events, &TruncateContentInodeEvent{
				Index:    index,
				Offset:   entry.Offset,
				Len:      validPrev,
				Size:     pageCount(validPrev),
				OSize:    entry.Size,
				VAddress: entry.Address,
			})
		}
		index++
		if !flag {
			group.Events = append(group.Events, &AddContentInodeEvent{
				Index:   index,
				Offset:  offset,
				Len:     length,
				Size:    pageCount(length),
				Content: copyBytes(buf[:length]),
			})
			index++
			flag = true
		}
		if validSuffix > 0 {
			secondOEntry = entry
			secondEntry = &InodeEntry{
				Offset: entry.Offset + entry.Len - validSuffix,
				Len:    validSuffix,
				Size:   pageCount(validSuffix),
			}
			secondIndex = index
		}
	}
	if !flag {
		group.Events = append(group.Events, &AddContentInodeEvent{
			Index:   int64(len(inode.Data)),
			Offset:  offset,
			Len:     length,
			Size:    pageCount(length),
			Content: copyBytes(buf[:length]),
		})
	}
	if secondEntry != nil {
		// 幸存后缀在事件组提交前按旧映射读出
		data := inode.ReadEntry(&secondOEntry,
			secondEntry.Offset-secondOEntry.Offset,
			secondEntry.Offset+secondEntry.Len-secondOEntry.Offset)
		group.Events = append(group.Events, &AddContentInodeEvent{
			Index:   secondIndex,
			Offset:  secondEntry.Offset,
			Len:     secondEntry.Len,
			Size:    secondEntry.Size,
			Content: data,
		})
	}
	result := inode.core.DisposeEventGroup(group)
	inode.UpdateByAnotherInode(result)
	return true
}

// Insert 在offset处插入length字节, 其后内容整体后移
func (inode *Inode) Insert(offset uint32, length uint32, buf []byte) bool {
	if offset > inode.Size {
		return false
	}
	if length == 0 {
		return true
	}
	group := NewInodeEventGroup()
	group.Inode = inode.CopyInode()

	index := int64(0)
	flag := false
	var secondEntry *InodeEntry
	var secondOEntry InodeEntry
	var secondIndex int64

	for k := range inode.Data {
		entry := inode.Data[k]
		if flag {
			group.Events = append(group.Events, &ChangeContentInodeEvent{
				Index:    index,
				Offset:   entry.Offset + length,
				VAddress: entry.Address,
			})
		} else if offset < entry.Offset+entry.Len {
			flag = true
			validPrev := clampSub(offset, entry.Offset)
			validSuffix := clampSub(entry.Offset+entry.Len, offset)
			if validPrev == 0 {
				group.Events = append(group.Events, &DeleteContentInodeEvent{
					Index:    index,
					Size:     entry.Size,
					VAddress: entry.Address,
				})
			} else {
				group.Events = append(group.Events, &TruncateContentInodeEvent{
					Index:    index,
					Offset:   entry.Offset,
					Len:      validPrev,
					Size:     pageCount(validPrev),
					OSize:    entry.Size,
					VAddress: entry.Address,
				})
			}
			index++
			group.Events = append(group.Events, &AddContentInodeEvent{
				Index:   index,
				Offset:  offset,
				Len:     length,
				Size:    pageCount(length),
				Content: copyBytes(buf[:length]),
			})
			index++
			if validSuffix > 0 {
				secondOEntry = entry
				secondEntry = &InodeEntry{
					Offset: entry.Offset + entry.Len + length - validSuffix,
					Len:    validSuffix,
					Size:   pageCount(validSuffix),
				}
				secondIndex = index
			}
		}
		index++
	}
	if !flag {
		group.Events = append(group.Events, &AddContentInodeEvent{
			Index:   int64(len(inode.Data)),
			Offset:  offset,
			Len:     length,
			Size:    pageCount(length),
			Content: copyBytes(buf[:length]),
		})
	}
	if secondEntry != nil {
		data := inode.ReadEntry(&secondOEntry,
			secondEntry.Offset-length-secondOEntry.Offset,
			secondEntry.Offset+secondEntry.Len-length-secondOEntry.Offset)
		group.Events = append(group.Events, &AddContentInodeEvent{
			Index:   secondIndex,
			Offset:  secondEntry.Offset,
			Len:     secondEntry.Len,
			Size:    secondEntry.Size,
			Content: data,
		})
	}
	result := inode.core.DisposeEventGroup(group)
	inode.UpdateByAnotherInode(result)
	return true
}

// Truncate 删去[offset, offset+length), 其后内容整体前移
func (inode *Inode) Truncate(offset uint32, length uint32) bool {
	if offset > inode.Size {
		return false
	}
	if offset+length > inode.Size {
		length = inode.Size - offset
	}
	if length == 0 {
		return true
	}
	group := NewInodeEventGroup()
	group.Inode = inode.CopyInode()

	index := int64(0)
	var newEntry *InodeEntry
	var newOEntry InodeEntry
	var newIndex int64

	for k := range inode.Data {
		entry := inode.Data[k]
		if entry.Offset+entry.Len <= offset {
			index++
			continue
		}
		if entry.Offset >= offset+length {
			group.Events = append(group.Events, &ChangeContentInodeEvent{
				Index:    index,
				Offset:   entry.Offset - length,
				VAddress: entry.Address,
			})
			index++
			continue
		}
		validPrev := clampSub(offset, entry.Offset)
		validSuffix := clampSub(entry.Offset+entry.Len, offset+length)
		if validPrev == 0 {
			group.Events = append(group.Events, &DeleteContentInodeEvent{
				Index:    index,
				Size:     entry.Size,
				VAddress: entry.Address,
			})
		} else {
			group.Events = append(group.Events, &TruncateContentInodeEvent{
				Index:    index,
				Offset:   entry.Offset,
				Len:      validPrev,
				Size:     pageCount(validPrev),
				OSize:    entry.Size,
				VAddress: entry.Address,
			})
		}
		index++
		if validSuffix > 0 {
			newOEntry = entry
			newEntry = &InodeEntry{
				Offset: entry.Offset + entry.Len - validSuffix - length,
				Len:    validSuffix,
				Size:   pageCount(validSuffix),
			}
			newIndex = index
			index++
		}
	}
	if newEntry != nil {
		data := inode.ReadEntry(&newOEntry,
			newEntry.Offset+length-newOEntry.Offset,
			newEntry.Offset+newEntry.Len+length-newOEntry.Offset)
		group.Events = append(group.Events, &AddContentInodeEvent{
			Index:   newIndex,
			Offset:  newEntry.Offset,
			Len:     newEntry.Len,
			Size:    newEntry.Size,
			Content: data,
		})
	}
	result := inode.core.DisposeEventGroup(group)
	inode.UpdateByAnotherInode(result)
	return true
}

// TruncateToEnd 删去offset之后的全部内容
func (inode *Inode) TruncateToEnd(offset uint32) bool {
	if offset > inode.Size {
		return false
	}
	return inode.Truncate(offset, inode.Size-offset)
}

func (inode *Inode) GetStat() InodeStat {
	return InodeStat{
		FileType: inode.FileType,
		Ino:      inode.Ino,
		Size:     inode.Size,
		Uid:      inode.Uid,
		Gid:      inode.Gid,
		RefCnt:   inode.RefCnt,
		NLink:    inode.NLink,
	}
}

// ModifyStat 改写标量属性, ino与size不可变
func (inode *Inode) ModifyStat(stat InodeStat) bool {
	if stat.Ino != inode.Ino {
		panic("Inode: modify stat can't change ino")
	}
	if stat.Size != inode.Size {
		panic("Inode: modify stat can't change size")
	}
	group := NewInodeEventGroup()
	group.Inode = inode.CopyInode()
	group.Events = append(group.Events, &ModifyInodeStatInodeEvent{
		FileType: stat.FileType,
		Ino:      stat.Ino,
		Size:     stat.Size,
		Uid:      stat.Uid,
		Gid:      stat.Gid,
		NLink:    stat.NLink,
	})
	result := inode.core.DisposeEventGroup(group)
	inode.UpdateByAnotherInode(result)
	return true
}

// Dup 链接数加一
func (inode *Inode) Dup() bool {
	stat := inode.GetStat()
	stat.NLink++
	return inode.ModifyStat(stat)
}

// Delete 整个inode作废: 全部页转dirty, KV记录删除
func (inode *Inode) Delete() bool {
	group := NewInodeEventGroup()
	group.Inode = inode.CopyInode()
	group.NeedDelete = true
	if inode.core.DisposeEventGroup(group) != nil {
		panic("Inode: delete internal error")
	}
	inode.Valid = false
	return true
}

// ReadEntry 读数据项内[start, end)字节, 经VAM按页取回
func (inode *Inode) ReadEntry(entry *InodeEntry, start uint32, end uint32) []byte {
	if end <= start {
		return nil
	}
	if end > entry.Len {
		panic(fmt.Sprintf("Inode: read entry out of range, end %d len %d", end, entry.Len))
	}
	startIndex := start / driver.PageSize
	endIndex := (end - 1) / driver.PageSize
	res := make([]byte, 0, end-start)
	for i := startIndex; i <= endIndex; i++ {
		page := inode.core.ReadData(entry.Address + i)
		lo := uint32(0)
		hi := uint32(driver.PageSize)
		if i == startIndex {
			lo = start % driver.PageSize
		}
		if i == endIndex {
			hi = (end-1)%driver.PageSize + 1
		}
		res = append(res, page[lo:hi]...)
	}
	return res
}

// UpdateByAnotherInode 用核心返回的结果整体刷新自身
func (inode *Inode) UpdateByAnotherInode(other *Inode) {
	if other == nil {
		return
	}
	inode.Valid = other.Valid
	inode.FileType = other.FileType
	inode.Ino = other.Ino
	inode.Size = other.Size
	inode.Uid = other.Uid
	inode.Gid = other.Gid
	inode.RefCnt = other.RefCnt
	inode.NLink = other.NLink
	inode.Data = make([]InodeEntry, len(other.Data))
	copy(inode.Data, other.Data)
}

// CopyInode 无核心引用的快照
func (inode *Inode) CopyInode() *Inode {
	data := make([]InodeEntry, len(inode.Data))
	copy(data, inode.Data)
	return &Inode{
		Valid:    inode.Valid,
		FileType: inode.FileType,
		Ino:      inode.Ino,
		Size:     inode.Size,
		Uid:      inode.Uid,
		Gid:      inode.Gid,
		RefCnt:   inode.RefCnt,
		NLink:    inode.NLink,
		Data:     data,
	}
}

// SetCore 绑定核心编排器句柄
func (inode *Inode) SetCore(core Core) {
	inode.core = core
}

func clampSub(a uint32, b uint32) uint32 {
	if a <= b {
		return 0
	}
	return a - b
}

func copyBytes(data []byte) []byte {
	res := make([]byte, len(data))
	copy(res, data)
	return res
}
