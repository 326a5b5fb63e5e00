package driver

import (
	"github.com/zhukovaskychina/xnandfs/logger"
)

// DiskManager 在裸设备之上提供写入暂存与读合并:
// 写入先进入WriteCache, 攒满一批后按插入序下盘;
// 读整块时将暂存页叠加到盘上数据, 保证read-your-writes;
// 擦除前撤回该块范围内的暂存写。
type DiskManager struct {
	dev        PageDevice
	writeCache *WriteCache
}

func NewDiskManager(dev PageDevice) *DiskManager {
	return &DiskManager{
		dev:        dev,
		writeCache: NewWriteCache(),
	}
}

// Read 读出一个块的128页, 叠加暂存写
func (m *DiskManager) Read(blockNo uint32) [][]byte {
	block := m.dev.ReadBlock(blockNo)
	start := blockNo * PagesPerBlock
	end := (blockNo + 1) * PagesPerBlock
	for address := start; address < end; address++ {
		if data, ok := m.writeCache.Read(address); ok {
			page := make([]byte, PageSize)
			copy(page, data)
			block[address-start] = page
		}
	}
	return block
}

// DiskWrite 暂存一页写入, 批满时整体下盘
func (m *DiskManager) DiskWrite(address uint32, data []byte) {
	m.writeCache.Write(address, data)
	if !m.writeCache.NeedSync() {
		return
	}
	m.Flush()
}

// DiskErase 撤回该块的暂存写后擦除
func (m *DiskManager) DiskErase(blockNo uint32) {
	start := blockNo * PagesPerBlock
	end := (blockNo + 1) * PagesPerBlock
	for address := start; address < end; address++ {
		m.writeCache.RecallWrite(address)
	}
	m.dev.EraseBlock(blockNo)
}

// Flush 将全部暂存写按插入序下盘
func (m *DiskManager) Flush() {
	pending := m.writeCache.GetAll()
	if len(pending) == 0 {
		m.writeCache.Sync()
		return
	}
	for _, entry := range pending {
		m.dev.WritePage(entry.Address, entry.Data)
	}
	logger.Debugf("DiskManager: flushed %d pages", len(pending))
	m.writeCache.Sync()
}

func (m *DiskManager) TotalPages() uint32 {
	return m.dev.TotalPages()
}

func (m *DiskManager) TotalBlocks() uint32 {
	return m.dev.TotalPages() / PagesPerBlock
}

func (m *DiskManager) Close() error {
	m.Flush()
	return m.dev.Close()
}
