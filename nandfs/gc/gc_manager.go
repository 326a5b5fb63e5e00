package gc

import (
	"fmt"
	"sort"

	"github.com/zhukovaskychina/xnandfs/logger"
	"github.com/zhukovaskychina/xnandfs/nandfs/driver"
)

// PageStatusKind 主数据区单页状态
type PageStatusKind uint8

const (
	PageClean PageStatusKind = iota // 可写
	PageDirty                       // 已死, 等待整块擦除
	PageBusy                        // 活页, 归属某inode
)

// PageUsedStatus BIT+PIT组合出的三态视图
type PageUsedStatus struct {
	Kind PageStatusKind
	Ino  uint32
}

// MainTable 内存中主数据区的全局页状态
type MainTable struct {
	Table map[uint32]PageUsedStatus
}

func NewMainTable() *MainTable {
	return &MainTable{
		Table: make(map[uint32]PageUsedStatus),
	}
}

func (t *MainTable) SetPage(address uint32, status PageUsedStatus) {
	t.Table[address] = status
}

func (t *MainTable) GetPage(address uint32) PageUsedStatus {
	status, ok := t.Table[address]
	if !ok {
		panic(fmt.Sprintf("MainTable: get no that page %d", address))
	}
	return status
}

// GCManager 回收计划器: 维护页状态镜像与块预留计数,
// 提供追加位置查找与受害块的Move/Erase计划生成。
type GCManager struct {
	table      *MainTable
	blockTable *BlockTable
}

func NewGCManager(blocks uint32) *GCManager {
	return &GCManager{
		table:      NewMainTable(),
		blockTable: NewBlockTable(blocks),
	}
}

// SetPage 更新页状态镜像; dirty/busy页同步推进块预留计数
func (g *GCManager) SetPage(address uint32, status PageUsedStatus) {
	g.table.SetPage(address, status)
	if status.Kind != PageClean {
		g.blockTable.UsePage(address)
	}
}

func (g *GCManager) GetPage(address uint32) PageUsedStatus {
	return g.table.GetPage(address)
}

// CleanBlock 整块擦除后的计数复位
func (g *GCManager) CleanBlock(blockNo uint32) {
	g.blockTable.CleanBlock(blockNo)
}

func (g *GCManager) BlockCount() uint32 {
	return g.blockTable.Size
}

// FindNextPosToWrite 返回第一个预留不小于size的块的追加地址
func (g *GCManager) FindNextPosToWrite(size uint32) (uint32, bool) {
	return g.findNextPos(size, g.blockTable.Size)
}

// FindNextPosToWriteExcept 同上, 但跳过except块(用于受害块自身)
func (g *GCManager) FindNextPosToWriteExcept(size uint32, except uint32) (uint32, bool) {
	return g.findNextPos(size, except)
}

func (g *GCManager) findNextPos(size uint32, except uint32) (uint32, bool) {
	for _, info := range g.blockTable.Table {
		if info.BlockNo == except {
			continue
		}
		if info.ReservedSize >= size {
			return info.BlockNo*driver.PagesPerBlock + info.ReservedOffset, true
		}
	}
	return 0, false
}

// GeneratePlan 选出预留最小的受害块, 将其活页合并成Move段,
// 末尾追加一个Erase。没有可回收的块时返回nil。
func (g *GCManager) GeneratePlan() *GCEventGroup {
	victim, ok := g.pickVictim()
	if !ok {
		return nil
	}

	group := &GCEventGroup{}
	index := uint32(0)
	start := victim * driver.PagesPerBlock
	end := (victim + 1) * driver.PagesPerBlock

	var runIno uint32
	var runStart uint32
	var runSize uint32
	flush := func() {
		if runSize == 0 {
			return
		}
		dst, ok := g.FindNextPosToWriteExcept(runSize, victim)
		if !ok {
			panic(fmt.Sprintf("GCManager: no space to move %d pages out of block %d", runSize, victim))
		}
		group.Events = append(group.Events, MoveGCEvent{
			Index:    index,
			Ino:      runIno,
			Size:     runSize,
			OAddress: runStart,
			DAddress: dst,
		})
		index++
		// 目的页计入预留消耗, 后续Move段不会选到同一段位置
		for i := uint32(0); i < runSize; i++ {
			g.blockTable.UsePage(dst + i)
		}
		runSize = 0
	}

	for address := start; address < end; address++ {
		status := g.table.GetPage(address)
		if status.Kind == PageBusy {
			if runSize > 0 && status.Ino == runIno && address == runStart+runSize {
				runSize++
				continue
			}
			flush()
			runIno = status.Ino
			runStart = address
			runSize = 1
			continue
		}
		flush()
	}
	flush()

	group.Events = append(group.Events, EraseGCEvent{
		Index:   index,
		BlockNo: victim,
	})
	sort.SliceStable(group.Events, func(i, j int) bool {
		return group.Events[i].EventIndex() < group.Events[j].EventIndex()
	})
	logger.Debugf("GCManager: plan for block %d with %d events", victim, len(group.Events))
	return group
}

// pickVictim 预留最小者优先, 全clean的块没有回收价值
func (g *GCManager) pickVictim() (uint32, bool) {
	found := false
	var victim uint32
	var best uint32
	for _, info := range g.blockTable.Table {
		if info.ReservedSize == driver.PagesPerBlock {
			continue
		}
		if !found || info.ReservedSize < best {
			found = true
			best = info.ReservedSize
			victim = info.BlockNo
		}
	}
	return victim, found
}
