package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xnandfs/logger"
	"github.com/zhukovaskychina/xnandfs/nandfs/buffer_pool"
	"github.com/zhukovaskychina/xnandfs/nandfs/driver"
	"github.com/zhukovaskychina/xnandfs/nandfs/gc"
	"github.com/zhukovaskychina/xnandfs/nandfs/inode"
	"github.com/zhukovaskychina/xnandfs/nandfs/kv"
)

// 盘上布局: 块0保留给superblock区, 1/2为BIT主/影, 3/4为PIT主/影,
// 主数据区从第5块起单独编址, 元数据I/O不经过GC路径。
const (
	BitPrimaryBlock        uint32 = 1
	BitShadowBlock         uint32 = 2
	PitPrimaryBlock        uint32 = 3
	PitShadowBlock         uint32 = 4
	MainRegionOffsetBlocks uint32 = 5
)

// CoreManager 核心编排器: 绑定BIT/PIT/VAM/GC/页缓存/KV存储,
// 承接inode事件组的派发与GC计划的执行, 负责元数据双缓冲同步。
// 单写者模型, 一把粗粒度互斥锁罩住全部可变状态。
type CoreManager struct {
	mu sync.Mutex

	bit *BIT
	pit *PIT
	vam *VAM
	kv  *kv.InodeStore
	gc  *gc.GCManager

	bufCache *buffer_pool.BufferPool

	mainBlocks uint32
	mainPages  uint32
}

func NewCoreManager(bufCache *buffer_pool.BufferPool, store *kv.InodeStore, totalBlocks uint32) (*CoreManager, error) {
	if totalBlocks <= MainRegionOffsetBlocks {
		return nil, errors.Annotatef(ErrMainRegionTooSmall, "%d blocks", totalBlocks)
	}
	mainBlocks := totalBlocks - MainRegionOffsetBlocks
	return &CoreManager{
		bit:        NewBIT(mainBlocks * driver.PagesPerBlock),
		pit:        NewPIT(mainBlocks * driver.PagesPerBlock),
		vam:        NewVAM(),
		kv:         store,
		gc:         gc.NewGCManager(mainBlocks),
		bufCache:   bufCache,
		mainBlocks: mainBlocks,
		mainPages:  mainBlocks * driver.PagesPerBlock,
	}, nil
}

// Mount 从双缓冲区域装载BIT与PIT并重建页状态镜像
func (c *CoreManager) Mount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readBit()
	c.readPit()
	c.buildMainTable()
	logger.Infof("CoreManager: mounted, %d main blocks", c.mainBlocks)
}

// Format 擦除全部块, 得到全clean的新卷
func (c *CoreManager) Format() {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.mainBlocks + MainRegionOffsetBlocks
	for blockNo := uint32(0); blockNo < total; blockNo++ {
		c.eraseBlock(blockNo)
	}
	c.flushDisk()
	logger.Infof("CoreManager: formatted %d blocks", total)
}

func (c *CoreManager) MainPages() uint32 {
	return c.mainPages
}

// BitGet 只读暴露BIT状态(测试与一致性检查用)
func (c *CoreManager) BitGet(address uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bit.GetPage(address)
}

// PitGet 只读暴露PIT状态
func (c *CoreManager) PitGet(address uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pit.GetPage(address)
}

// VamLen 当前映射数
func (c *CoreManager) VamLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vam.Len()
}

// ---------------------------------------------------------------------------
// BIT Region

func (c *CoreManager) readBit() {
	data1 := c.readBlock(BitPrimaryBlock)
	data2 := c.readBlock(BitShadowBlock)
	if imageNonZero(data2) {
		// 影像非零说明上次flush中途失败, 以影像为准回放
		logger.Warnf("CoreManager: promoting BIT shadow image")
		c.eraseBlock(BitPrimaryBlock)
		c.writeBlock(BitPrimaryBlock, data2)
		c.flushDisk()
		c.eraseBlock(BitShadowBlock)
		data1 = data2
	}
	status := DecodeBitImage(data1, c.mainPages)
	for address := uint32(0); address < c.mainPages; address++ {
		c.bit.InitPage(address, status[address])
	}
}

func (c *CoreManager) syncBit() {
	if !c.bit.NeedSync() {
		return
	}
	image := c.bit.Encode()
	c.writeBlock(BitShadowBlock, image)
	c.flushDisk()
	c.eraseBlock(BitPrimaryBlock)
	c.writeBlock(BitPrimaryBlock, image)
	c.flushDisk()
	c.eraseBlock(BitShadowBlock)
	c.bit.Sync()
}

func (c *CoreManager) updateBit(address uint32, status bool) {
	c.bit.SetPage(address, status)
	if status {
		c.gc.SetPage(address, gc.PageUsedStatus{Kind: gc.PageDirty})
	} else {
		c.gc.SetPage(address, gc.PageUsedStatus{Kind: gc.PageClean})
	}
	c.syncBit()
}

// ---------------------------------------------------------------------------
// PIT Region

func (c *CoreManager) readPit() {
	data1 := c.readBlock(PitPrimaryBlock)
	data2 := c.readBlock(PitShadowBlock)
	if imageNonZero(data2) {
		logger.Warnf("CoreManager: promoting PIT shadow image")
		c.eraseBlock(PitPrimaryBlock)
		c.writeBlock(PitPrimaryBlock, data2)
		c.flushDisk()
		c.eraseBlock(PitShadowBlock)
		data1 = data2
	}
	owners := DecodePitImage(data1, c.mainPages)
	for address := uint32(0); address < c.mainPages; address++ {
		c.pit.InitPage(address, owners[address])
	}
}

func (c *CoreManager) syncPit() {
	if !c.pit.NeedSync() {
		return
	}
	image := c.pit.Encode()
	c.writeBlock(PitShadowBlock, image)
	c.flushDisk()
	c.eraseBlock(PitPrimaryBlock)
	c.writeBlock(PitPrimaryBlock, image)
	c.flushDisk()
	c.eraseBlock(PitShadowBlock)
	c.pit.Sync()
}

func (c *CoreManager) updatePit(address uint32, ino uint32) {
	c.pit.SetPage(address, ino)
	if ino != 0 {
		c.gc.SetPage(address, gc.PageUsedStatus{Kind: gc.PageBusy, Ino: ino})
	} else {
		c.gc.SetPage(address, gc.PageUsedStatus{Kind: gc.PageDirty})
	}
	c.syncPit()
}

// dirtyPit 活页转dirty
func (c *CoreManager) dirtyPit(address uint32) {
	c.pit.DeletePage(address)
	c.gc.SetPage(address, gc.PageUsedStatus{Kind: gc.PageDirty})
	c.syncPit()
}

// cleanPit 整块擦除路径上的清零
func (c *CoreManager) cleanPit(address uint32) {
	c.pit.CleanPage(address)
	c.gc.SetPage(address, gc.PageUsedStatus{Kind: gc.PageClean})
	c.syncPit()
}

func (c *CoreManager) buildMainTable() {
	for address := uint32(0); address < c.mainPages; address++ {
		used := c.bit.GetPage(address)
		ino := c.pit.GetPage(address)
		if !used {
			if ino != 0 {
				logger.Errorf("CoreManager: page %d clean but owned by %d", address, ino)
				panic(ErrIncoherentTables)
			}
			c.gc.SetPage(address, gc.PageUsedStatus{Kind: gc.PageClean})
		} else if ino != 0 {
			c.gc.SetPage(address, gc.PageUsedStatus{Kind: gc.PageBusy, Ino: ino})
		} else {
			c.gc.SetPage(address, gc.PageUsedStatus{Kind: gc.PageDirty})
		}
	}
}

// ---------------------------------------------------------------------------
// 设备I/O, 物理编址, 对上不可见

func (c *CoreManager) readPage(address uint32) []byte {
	return c.bufCache.Read(address)
}

func (c *CoreManager) writePage(address uint32, data []byte) {
	c.bufCache.Write(address, data)
}

func (c *CoreManager) readBlock(blockNo uint32) [][]byte {
	block := make([][]byte, driver.PagesPerBlock)
	start := blockNo * driver.PagesPerBlock
	for i := uint32(0); i < driver.PagesPerBlock; i++ {
		block[i] = c.readPage(start + i)
	}
	return block
}

func (c *CoreManager) writeBlock(blockNo uint32, data [][]byte) {
	start := blockNo * driver.PagesPerBlock
	for i, page := range data {
		c.writePage(start+uint32(i), page)
	}
}

func (c *CoreManager) eraseBlock(blockNo uint32) {
	c.bufCache.Erase(blockNo)
}

func (c *CoreManager) flushDisk() {
	c.bufCache.Flush()
}

// 主数据区编址转换

func (c *CoreManager) mainReadPage(address uint32) []byte {
	return c.readPage(address + MainRegionOffsetBlocks*driver.PagesPerBlock)
}

func (c *CoreManager) mainWritePage(address uint32, data []byte) {
	c.writePage(address+MainRegionOffsetBlocks*driver.PagesPerBlock, data)
}

func (c *CoreManager) mainEraseBlock(blockNo uint32) {
	c.eraseBlock(blockNo + MainRegionOffsetBlocks)
}

// ---------------------------------------------------------------------------
// KV Module

func (c *CoreManager) AllocateInode() *inode.Inode {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw := c.kv.AllocateInode()
	return transferRawInodeToInode(raw)
}

// GetInode 装载inode并为其每个数据项建立虚拟地址映射
func (c *CoreManager) GetInode(ino uint32) *inode.Inode {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw := c.kv.GetInode(ino)
	in := transferRawInodeToInode(raw)
	for i := range raw.Data {
		phys := raw.Data[i].Address
		size := raw.Data[i].Size
		if virt, ok := c.vam.GetVirtualAddress(phys); ok {
			// 此前装载过, 复用既有映射
			in.Data[i].Address = virt
			continue
		}
		virt := c.vam.GetAvailableAddress(size)
		for j := uint32(0); j < size; j++ {
			c.vam.InsertMap(phys+j, virt+j)
		}
		in.Data[i].Address = virt
	}
	return in
}

func (c *CoreManager) UpdateInode(in *inode.Inode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv.UpdateInode(c.transferInodeToRawInode(in))
}

func (c *CoreManager) DeleteInode(ino uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv.DeleteInode(ino)
}

// ---------------------------------------------------------------------------
// 对上层提供的读写接口

// ReadData 经VAM读一页
func (c *CoreManager) ReadData(vAddress uint32) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	address, ok := c.vam.GetPhysicAddress(vAddress)
	if !ok {
		panic(fmt.Sprintf("CoreManager: read data no that virtual address %d", vAddress))
	}
	return c.mainReadPage(address)
}

// DisposeEventGroup 以单事务执行一个inode事件组:
// 事件按排序键升序重放, 页写入走copy-on-write, BIT/PIT批量后
// 一次flush, 最后将结果写回KV并返回更新后的inode。
func (c *CoreManager) DisposeEventGroup(group *inode.InodeEventGroup) *inode.Inode {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bit.BeginOp()
	c.pit.BeginOp()
	result := c.disposeEventGroupLocked(group)
	c.bit.EndOp()
	c.pit.EndOp()
	c.syncBit()
	c.syncPit()
	c.flushDisk()
	return result
}

func (c *CoreManager) disposeEventGroupLocked(group *inode.InodeEventGroup) *inode.Inode {
	snapshot := group.Inode
	if group.NeedDelete {
		for _, entry := range snapshot.Data {
			if !entry.Valid {
				continue
			}
			for i := uint32(0); i < entry.Size; i++ {
				virt := entry.Address + i
				phys, ok := c.vam.GetPhysicAddress(virt)
				if !ok {
					panic(fmt.Sprintf("CoreManager: delete inode no mapping for virtual %d", virt))
				}
				c.dirtyPit(phys)
				c.vam.DeleteMap(phys, virt)
			}
		}
		c.kv.DeleteInode(snapshot.Ino)
		logger.Debugf("CoreManager: deleted ino %d", snapshot.Ino)
		return nil
	}

	events := make([]inode.InodeEvent, len(group.Events))
	copy(events, group.Events)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].SortKey() < events[j].SortKey()
	})

	result := snapshot.CopyInode()
	for _, ev := range events {
		switch event := ev.(type) {
		case *inode.AddContentInodeEvent:
			c.applyAddContent(result, event)
		case *inode.TruncateContentInodeEvent:
			entry := &result.Data[event.Index]
			for i := event.Size; i < event.OSize; i++ {
				c.releasePage(event.VAddress + i)
			}
			entry.Offset = event.Offset
			entry.Len = event.Len
			entry.Size = event.Size
		case *inode.ChangeContentInodeEvent:
			result.Data[event.Index].Offset = event.Offset
		case *inode.DeleteContentInodeEvent:
			for i := uint32(0); i < event.Size; i++ {
				c.releasePage(event.VAddress + i)
			}
			result.Data[event.Index].Valid = false
		case *inode.ModifyInodeStatInodeEvent:
			result.FileType = event.FileType
			result.Uid = event.Uid
			result.Gid = event.Gid
			result.NLink = event.NLink
		}
	}

	// 失效项出列, 重算size
	data := result.Data[:0]
	var size uint32
	for _, entry := range result.Data {
		if !entry.Valid {
			continue
		}
		size += entry.Len
		data = append(data, entry)
	}
	result.Data = data
	result.Size = size
	result.Valid = true

	c.kv.UpdateInode(c.transferInodeToRawInode(result))
	return result
}

// applyAddContent 预留连续页, 发放虚拟地址段, 逐页写入(末页零填充)
func (c *CoreManager) applyAddContent(result *inode.Inode, event *inode.AddContentInodeEvent) {
	size := event.Size
	dst := c.reserve(size)
	virt := c.vam.GetAvailableAddress(size)
	for i := uint32(0); i < size; i++ {
		page := make([]byte, driver.PageSize)
		start := int(i) * driver.PageSize
		if start < len(event.Content) {
			end := start + driver.PageSize
			if end > len(event.Content) {
				end = len(event.Content)
			}
			copy(page, event.Content[start:end])
		}
		c.mainWritePage(dst+i, page)
		c.updateBit(dst+i, true)
		c.updatePit(dst+i, result.Ino)
		c.vam.InsertMap(dst+i, virt+i)
	}
	entry := inode.InodeEntry{
		Valid:   true,
		Offset:  event.Offset,
		Len:     event.Len,
		Size:    size,
		Address: virt,
	}
	index := int(event.Index)
	if index > len(result.Data) {
		index = len(result.Data)
	}
	result.Data = append(result.Data, inode.InodeEntry{})
	copy(result.Data[index+1:], result.Data[index:])
	result.Data[index] = entry
}

// releasePage 解除虚拟映射并把物理页转dirty
func (c *CoreManager) releasePage(virt uint32) {
	phys, ok := c.vam.GetPhysicAddress(virt)
	if !ok {
		panic(fmt.Sprintf("CoreManager: release no mapping for virtual %d", virt))
	}
	c.dirtyPit(phys)
	c.vam.DeleteMap(phys, virt)
}

// ---------------------------------------------------------------------------
// GC Module

// reserve 找到size个连续clean页的起始地址, 无处可写时同步GC后重试
func (c *CoreManager) reserve(size uint32) uint32 {
	if size > driver.PagesPerBlock {
		panic(fmt.Sprintf("CoreManager: reserve %d pages exceeds block capacity", size))
	}
	for attempt := uint32(0); attempt <= c.mainBlocks; attempt++ {
		pos, ok := c.gc.FindNextPosToWrite(size)
		if ok {
			return pos
		}
		logger.Infof("CoreManager: forward gc for %d pages", size)
		plan := c.gc.GeneratePlan()
		if plan == nil {
			panic("CoreManager: reserve no reclaimable space")
		}
		c.disposeGcGroupLocked(plan)
	}
	panic("CoreManager: reserve failed after gc")
}

// DisposeGcGroup 执行一个GC计划(测试及后台回收入口)
func (c *CoreManager) DisposeGcGroup(group *gc.GCEventGroup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposeGcGroupLocked(group)
}

// GeneratePlan 暴露计划生成(后台回收入口)
func (c *CoreManager) GeneratePlan() *gc.GCEventGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gc.GeneratePlan()
}

func (c *CoreManager) disposeGcGroupLocked(group *gc.GCEventGroup) {
	c.bit.BeginOp()
	c.pit.BeginOp()
	var victims []uint32
	for _, ev := range group.Events {
		switch event := ev.(type) {
		case gc.MoveGCEvent:
			c.applyMove(event)
		case gc.EraseGCEvent:
			start := event.BlockNo * driver.PagesPerBlock
			for address := start; address < start+driver.PagesPerBlock; address++ {
				c.updateBit(address, false)
				c.cleanPit(address)
			}
			victims = append(victims, event.BlockNo)
		}
	}
	c.bit.EndOp()
	c.pit.EndOp()
	c.syncBit()
	c.syncPit()
	for _, blockNo := range victims {
		c.gc.CleanBlock(blockNo)
		c.mainEraseBlock(blockNo)
	}
	c.flushDisk()
}

// applyMove 把一段活页搬到新位置: 源页转dirty, 虚拟地址重绑,
// 目的页登记归属后写入, 最后改写KV记录中的物理地址。
func (c *CoreManager) applyMove(event gc.MoveGCEvent) {
	for i := uint32(0); i < event.Size; i++ {
		src := event.OAddress + i
		dst := event.DAddress + i
		data := c.mainReadPage(src)
		c.dirtyPit(src)
		if virt, ok := c.vam.GetVirtualAddress(src); ok {
			c.vam.UpdateMap(dst, virt)
		}
		c.updateBit(dst, true)
		c.updatePit(dst, event.Ino)
		c.mainWritePage(dst, data)
	}
	raw := c.kv.GetInode(event.Ino)
	changed := false
	for idx := range raw.Data {
		address := raw.Data[idx].Address
		if address >= event.OAddress && address < event.OAddress+event.Size {
			raw.Data[idx].Address = event.DAddress + (address - event.OAddress)
			changed = true
		}
	}
	if changed {
		c.kv.UpdateInode(raw)
	}
	logger.Debugf("CoreManager: moved %d pages of ino %d from %d to %d",
		event.Size, event.Ino, event.OAddress, event.DAddress)
}

// ---------------------------------------------------------------------------
// inode记录与内存inode互转, 写回时虚拟地址换回物理地址

func transferRawInodeToInode(raw *kv.RawInode) *inode.Inode {
	var fileType inode.InodeFileType
	switch raw.FileType {
	case 0:
		fileType = inode.FileTypeFile
	case 1:
		fileType = inode.FileTypeDirectory
	case 2:
		fileType = inode.FileTypeSoftLink
	default:
		fileType = inode.FileTypeHardLink
	}
	data := make([]inode.InodeEntry, 0, len(raw.Data))
	for _, entry := range raw.Data {
		data = append(data, inode.InodeEntry{
			Valid:   true,
			Offset:  entry.Offset,
			Len:     entry.Len,
			Size:    entry.Size,
			Address: entry.Address,
		})
	}
	return &inode.Inode{
		Valid:    true,
		FileType: fileType,
		Ino:      raw.Ino,
		Size:     raw.Size,
		Uid:      raw.Uid,
		Gid:      raw.Gid,
		RefCnt:   raw.RefCnt,
		NLink:    raw.NLink,
		Data:     data,
	}
}

func (c *CoreManager) transferInodeToRawInode(in *inode.Inode) *kv.RawInode {
	var fileType uint8
	switch in.FileType {
	case inode.FileTypeFile:
		fileType = 0
	case inode.FileTypeDirectory:
		fileType = 1
	case inode.FileTypeSoftLink:
		fileType = 2
	case inode.FileTypeHardLink:
		fileType = 3
	}
	data := make([]kv.RawEntry, 0, len(in.Data))
	for _, entry := range in.Data {
		if !entry.Valid {
			continue
		}
		phys, ok := c.vam.GetPhysicAddress(entry.Address)
		if !ok {
			panic(fmt.Sprintf("CoreManager: persist no mapping for virtual %d", entry.Address))
		}
		data = append(data, kv.RawEntry{
			Offset:  entry.Offset,
			Len:     entry.Len,
			Size:    entry.Size,
			Address: phys,
		})
	}
	return &kv.RawInode{
		Ino:      in.Ino,
		Uid:      in.Uid,
		Gid:      in.Gid,
		Size:     in.Size,
		NLink:    in.NLink,
		RefCnt:   in.RefCnt,
		FileType: fileType,
		Data:     data,
	}
}

func imageNonZero(image [][]byte) bool {
	for _, page := range image {
		for _, b := range page {
			if b != 0 {
				return true
			}
		}
	}
	return false
}
