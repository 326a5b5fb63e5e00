package common

import (
	"bytes"
	"fmt"

	"github.com/zhukovaskychina/xnandfs/nandfs/inode"
	"github.com/zhukovaskychina/xnandfs/util"
)

// 目录项定长14字节: 4字节大端ino + 10字节NUL填充文件名
const DirEntrySize = 14

const dirNameCap = DirEntrySize - 4

// DirectoryInodeEntry 解码后的目录项
type DirectoryInodeEntry struct {
	FileName string
	Ino      uint32
}

// DirectoryParser 目录内容的顺序解码器
type DirectoryParser struct {
	count   int
	data    []byte
	length  int
	PerSize int
}

func NewDirectoryParser(data []byte) *DirectoryParser {
	if len(data)%DirEntrySize != 0 {
		panic("DirectoryParser: new not matched size")
	}
	return &DirectoryParser{
		data:    data,
		length:  len(data),
		PerSize: DirEntrySize,
	}
}

// DecodeDirectoryEntry 解码一条目录项; ino为0表示空洞
func DecodeDirectoryEntry(buf []byte) *DirectoryInodeEntry {
	if len(buf) != DirEntrySize {
		panic("DirectoryParser: decode not matched size")
	}
	ino := util.ReadUB4Byte2UInt32(buf[0:4])
	name := buf[4:DirEntrySize]
	end := bytes.IndexByte(name, 0)
	if end == -1 {
		end = dirNameCap
	}
	if ino != 0 && end == 0 {
		panic("DirectoryParser: decode not available name")
	}
	return &DirectoryInodeEntry{
		Ino:      ino,
		FileName: string(name[:end]),
	}
}

// EncodeDirectoryEntry 编码一条目录项
func EncodeDirectoryEntry(entry *DirectoryInodeEntry) []byte {
	if len(entry.FileName) == 0 || len(entry.FileName) > dirNameCap {
		panic(fmt.Sprintf("DirectoryParser: encode bad name %q", entry.FileName))
	}
	res := make([]byte, 0, DirEntrySize)
	res = append(res, util.ConvertUInt4Bytes(entry.Ino)...)
	name := make([]byte, dirNameCap)
	copy(name, entry.FileName)
	res = append(res, name...)
	return res
}

// Next 返回下一条目录项, 读尽后ok为false
func (p *DirectoryParser) Next() (*DirectoryInodeEntry, bool) {
	if p.count >= p.length {
		return nil, false
	}
	entry := DecodeDirectoryEntry(p.data[p.count : p.count+DirEntrySize])
	p.count += DirEntrySize
	return entry, true
}

// Len 目录项总数(含空洞)
func (p *DirectoryParser) Len() int {
	return p.length / DirEntrySize
}

// DirLookup 在目录中查找文件名, 返回ino与项下标
func DirLookup(dir *inode.Inode, name string) (uint32, int, bool) {
	if dir.FileType != inode.FileTypeDirectory {
		return 0, 0, false
	}
	var buf []byte
	if dir.ReadAll(&buf) <= 0 {
		return 0, 0, false
	}
	parser := NewDirectoryParser(buf)
	index := 0
	for {
		entry, ok := parser.Next()
		if !ok {
			break
		}
		if entry.Ino != 0 && entry.FileName == name {
			return entry.Ino, index, true
		}
		index++
	}
	return 0, 0, false
}

// DirLink 向目录写入目录项(name, ino), 占用第一个空洞或追加到尾部
func DirLink(dir *inode.Inode, ino uint32, name string) bool {
	if dir.FileType != inode.FileTypeDirectory {
		return false
	}
	if len(name) == 0 || len(name) > dirNameCap {
		return false
	}
	if _, _, ok := DirLookup(dir, name); ok {
		return false
	}
	index := 0
	var buf []byte
	if dir.ReadAll(&buf) > 0 {
		parser := NewDirectoryParser(buf)
		for {
			entry, ok := parser.Next()
			if !ok {
				break
			}
			if entry.Ino == 0 {
				break
			}
			index++
		}
	}
	record := EncodeDirectoryEntry(&DirectoryInodeEntry{
		FileName: name,
		Ino:      ino,
	})
	return dir.Write(uint32(index*DirEntrySize), DirEntrySize, record)
}

// DirUnlink 删除目录项(name, ino), 后续项前移
func DirUnlink(dir *inode.Inode, ino uint32, name string) bool {
	if dir.FileType != inode.FileTypeDirectory {
		return false
	}
	var buf []byte
	if dir.ReadAll(&buf) <= 0 {
		return false
	}
	parser := NewDirectoryParser(buf)
	index := 0
	found := false
	for {
		entry, ok := parser.Next()
		if !ok {
			break
		}
		if entry.Ino == ino && entry.FileName == name {
			found = true
			break
		}
		index++
	}
	if !found {
		return false
	}
	return dir.Truncate(uint32(index*DirEntrySize), DirEntrySize)
}
