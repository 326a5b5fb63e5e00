package gc

import (
	"github.com/zhukovaskychina/xnandfs/nandfs/driver"
)

// BlockInfo 单个擦除块的预留计数
type BlockInfo struct {
	Size           uint32 // 总页数
	BlockNo        uint32
	ReservedSize   uint32 // 仍为clean的页数
	ReservedOffset uint32 // 块内下一个clean页的偏移
}

// BlockTable 主数据区每块的追加位置与剩余空间。
// 日志式追加保证块内已用页构成前缀, UsePage按前缀推进且幂等。
type BlockTable struct {
	Size  uint32
	Table []BlockInfo
}

func NewBlockTable(size uint32) *BlockTable {
	table := make([]BlockInfo, 0, size)
	for i := uint32(0); i < size; i++ {
		table = append(table, BlockInfo{
			Size:           driver.PagesPerBlock,
			BlockNo:        i,
			ReservedSize:   driver.PagesPerBlock,
			ReservedOffset: 0,
		})
	}
	return &BlockTable{
		Size:  size,
		Table: table,
	}
}

// UsePage 将该页标记为已消耗; 对同一页重复调用无副作用
func (t *BlockTable) UsePage(address uint32) {
	blockNo := address / driver.PagesPerBlock
	offset := address % driver.PagesPerBlock
	info := &t.Table[blockNo]
	if offset >= info.ReservedOffset {
		info.ReservedOffset = offset + 1
		info.ReservedSize = driver.PagesPerBlock - info.ReservedOffset
	}
}

// CleanBlock 整块擦除后恢复全部预留
func (t *BlockTable) CleanBlock(blockNo uint32) {
	info := &t.Table[blockNo]
	info.ReservedSize = driver.PagesPerBlock
	info.ReservedOffset = 0
}
