package kv

// RawEntry 持久化的inode数据项, address为物理页地址
type RawEntry struct {
	Len     uint32
	Size    uint32
	Offset  uint32
	Address uint32
}

// RawInode 持久化的inode记录
type RawInode struct {
	Ino      uint32
	Uid      uint32
	Gid      uint16
	Size     uint32
	NLink    uint8
	RefCnt   uint8
	FileType uint8 // 0 File 1 Directory 2 SoftLink 3 HardLink
	Data     []RawEntry
}

func (r *RawInode) Copy() *RawInode {
	data := make([]RawEntry, len(r.Data))
	copy(data, r.Data)
	return &RawInode{
		Ino:      r.Ino,
		Uid:      r.Uid,
		Gid:      r.Gid,
		Size:     r.Size,
		NLink:    r.NLink,
		RefCnt:   r.RefCnt,
		FileType: r.FileType,
		Data:     data,
	}
}
