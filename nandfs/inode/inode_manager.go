package inode

import (
	"sync"

	"github.com/zhukovaskychina/xnandfs/logger"
)

// InodeCacheSlots 打开inode表的固定槽位数
const InodeCacheSlots = 30

// InodeManager 有界引用计数的打开inode表。
// 查找未命中且没有引用计数为0的槽位时视为编程错误。
type InodeManager struct {
	capacity    int
	core        Core
	inodeBuffer []*Inode
	mu          sync.Mutex
}

func NewInodeManager(core Core) *InodeManager {
	buf := make([]*Inode, 0, InodeCacheSlots)
	for i := 0; i < InodeCacheSlots; i++ {
		buf = append(buf, NewInode())
	}
	return &InodeManager{
		capacity:    InodeCacheSlots,
		core:        core,
		inodeBuffer: buf,
	}
}

// IAlloc 分配新inode, 返回已登记且引用计数为1的句柄
func (m *InodeManager) IAlloc() *Inode {
	m.mu.Lock()
	defer m.mu.Unlock()
	emptyIndex := -1
	for index, ip := range m.inodeBuffer {
		if ip.RefCnt == 0 {
			emptyIndex = index
			break
		}
	}
	if emptyIndex == -1 {
		panic("InodeManager: alloc no spare cache to store")
	}
	in := m.core.AllocateInode()
	in.RefCnt = 1
	in.SetCore(m.core)
	m.inodeBuffer[emptyIndex] = in
	logger.Debugf("InodeManager: alloc ino %d", in.Ino)
	return in
}

// IGet 查找ino, 命中则引用计数加一, 否则从KV装载
func (m *InodeManager) IGet(ino uint32) *Inode {
	m.mu.Lock()
	defer m.mu.Unlock()
	emptyIndex := -1
	for index, ip := range m.inodeBuffer {
		if ip.RefCnt > 0 && ip.Ino == ino {
			ip.RefCnt++
			return ip
		}
		if emptyIndex == -1 && ip.RefCnt == 0 {
			emptyIndex = index
		}
	}
	if emptyIndex == -1 {
		panic("InodeManager: get no spare cache to store")
	}
	in := m.core.GetInode(ino)
	in.RefCnt = 1
	in.SetCore(m.core)
	m.inodeBuffer[emptyIndex] = in
	return in
}

// IDup 引用计数加一
func (m *InodeManager) IDup(in *Inode) *Inode {
	m.mu.Lock()
	defer m.mu.Unlock()
	in.RefCnt++
	return in
}

// IPut 释放一个引用, 计数归零后槽位可复用
func (m *InodeManager) IPut(in *Inode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.RefCnt == 0 {
		panic("InodeManager: put not valid inode")
	}
	in.RefCnt--
}
