package core

import (
	"fmt"

	"github.com/zhukovaskychina/xnandfs/nandfs/driver"
)

// BitImagePages BIT盘上镜像页数, 每bit对应主数据区一页
const BitImagePages = driver.PagesPerBlock

// BIT Block Information Table: 页地址 -> 是否已用(含dirty)。
// 盘上镜像为128页位图, 字节内LSB在前, 地址升序;
// 经主/影双缓冲块持久化。
type BIT struct {
	capacity uint32 // 主数据区页数
	table    map[uint32]bool
	sync     bool
	opDepth  int // >0 时抑制中间flush
}

func NewBIT(capacity uint32) *BIT {
	return &BIT{
		capacity: capacity,
		table:    make(map[uint32]bool, capacity),
	}
}

func (b *BIT) InitPage(address uint32, status bool) {
	if address >= b.capacity {
		panic(fmt.Sprintf("BIT: init page %d out of range", address))
	}
	if _, ok := b.table[address]; ok {
		panic(fmt.Sprintf("BIT: init page %d has exist", address))
	}
	b.table[address] = status
}

func (b *BIT) GetPage(address uint32) bool {
	status, ok := b.table[address]
	if !ok {
		panic(fmt.Sprintf("BIT: get not that page %d", address))
	}
	return status
}

func (b *BIT) SetPage(address uint32, status bool) {
	if _, ok := b.table[address]; !ok {
		panic(fmt.Sprintf("BIT: set not that page %d", address))
	}
	b.table[address] = status
	b.sync = true
}

func (b *BIT) GetBlock(blockNo uint32) []bool {
	res := make([]bool, driver.PagesPerBlock)
	start := blockNo * driver.PagesPerBlock
	for i := uint32(0); i < driver.PagesPerBlock; i++ {
		res[i] = b.GetPage(start + i)
	}
	return res
}

func (b *BIT) SetBlock(blockNo uint32, status []bool) {
	if len(status) != driver.PagesPerBlock {
		panic("BIT: set block with bad status size")
	}
	start := blockNo * driver.PagesPerBlock
	for i := uint32(0); i < driver.PagesPerBlock; i++ {
		b.SetPage(start+i, status[i])
	}
}

// Encode 生成完整的128页位图镜像
func (b *BIT) Encode() [][]byte {
	image := make([][]byte, BitImagePages)
	for i := range image {
		image[i] = make([]byte, driver.PageSize)
	}
	for address, status := range b.table {
		if !status {
			continue
		}
		byteIndex := address / 8
		image[byteIndex/driver.PageSize][byteIndex%driver.PageSize] |= 1 << (address % 8)
	}
	return image
}

// DecodeBitImage 从镜像还原前capacity个页的状态
func DecodeBitImage(image [][]byte, capacity uint32) []bool {
	res := make([]bool, capacity)
	for address := uint32(0); address < capacity; address++ {
		byteIndex := address / 8
		byteVal := image[byteIndex/driver.PageSize][byteIndex%driver.PageSize]
		res[address] = (byteVal>>(address%8))&1 == 1
	}
	return res
}

func (b *BIT) NeedSync() bool {
	if b.opDepth > 0 {
		return false
	}
	return b.sync
}

func (b *BIT) Sync() {
	b.sync = false
}

func (b *BIT) BeginOp() {
	b.opDepth++
}

func (b *BIT) EndOp() {
	if b.opDepth == 0 {
		panic("BIT: end op without begin")
	}
	b.opDepth--
}

func (b *BIT) Capacity() uint32 {
	return b.capacity
}
