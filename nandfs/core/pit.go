package core

import (
	"fmt"

	"github.com/zhukovaskychina/xnandfs/nandfs/driver"
	"github.com/zhukovaskychina/xnandfs/util"
)

// PitImagePages PIT盘上镜像页数, 每页地址占4字节大端
const PitImagePages = driver.PagesPerBlock

// PIT Page Information Table: 页地址 -> 归属inode号, 0为无主。
// BIT=used且PIT=0即dirty页。持久化纪律与BIT一致。
type PIT struct {
	capacity uint32
	table    map[uint32]uint32
	sync     bool
	opDepth  int
}

func NewPIT(capacity uint32) *PIT {
	return &PIT{
		capacity: capacity,
		table:    make(map[uint32]uint32, capacity),
	}
}

func (p *PIT) InitPage(address uint32, ino uint32) {
	if address >= p.capacity {
		panic(fmt.Sprintf("PIT: init page %d out of range", address))
	}
	if _, ok := p.table[address]; ok {
		panic(fmt.Sprintf("PIT: init page %d has exist", address))
	}
	p.table[address] = ino
}

func (p *PIT) GetPage(address uint32) uint32 {
	ino, ok := p.table[address]
	if !ok {
		panic(fmt.Sprintf("PIT: get not that page %d", address))
	}
	return ino
}

func (p *PIT) SetPage(address uint32, ino uint32) {
	if _, ok := p.table[address]; !ok {
		panic(fmt.Sprintf("PIT: set not that page %d", address))
	}
	p.table[address] = ino
	p.sync = true
}

// DeletePage 活页转dirty: 归属清零, BIT仍为used
func (p *PIT) DeletePage(address uint32) {
	if _, ok := p.table[address]; !ok {
		panic(fmt.Sprintf("PIT: delete not that page %d", address))
	}
	p.table[address] = 0
	p.sync = true
}

// CleanPage 整块擦除后的清零
func (p *PIT) CleanPage(address uint32) {
	if _, ok := p.table[address]; !ok {
		panic(fmt.Sprintf("PIT: clean not that page %d", address))
	}
	p.table[address] = 0
	p.sync = true
}

// Encode 生成完整的128页u32大端镜像
func (p *PIT) Encode() [][]byte {
	image := make([][]byte, PitImagePages)
	for i := range image {
		image[i] = make([]byte, driver.PageSize)
	}
	for address, ino := range p.table {
		if ino == 0 {
			continue
		}
		byteIndex := address * 4
		page := image[byteIndex/driver.PageSize]
		copy(page[byteIndex%driver.PageSize:byteIndex%driver.PageSize+4], util.ConvertUInt4Bytes(ino))
	}
	return image
}

// DecodePitImage 从镜像还原前capacity个页的归属
func DecodePitImage(image [][]byte, capacity uint32) []uint32 {
	res := make([]uint32, capacity)
	for address := uint32(0); address < capacity; address++ {
		byteIndex := address * 4
		page := image[byteIndex/driver.PageSize]
		res[address] = util.ReadUB4Byte2UInt32(page[byteIndex%driver.PageSize : byteIndex%driver.PageSize+4])
	}
	return res
}

func (p *PIT) NeedSync() bool {
	if p.opDepth > 0 {
		return false
	}
	return p.sync
}

func (p *PIT) Sync() {
	p.sync = false
}

func (p *PIT) BeginOp() {
	p.opDepth++
}

func (p *PIT) EndOp() {
	if p.opDepth == 0 {
		panic("PIT: end op without begin")
	}
	p.opDepth--
}

func (p *PIT) Capacity() uint32 {
	return p.capacity
}
