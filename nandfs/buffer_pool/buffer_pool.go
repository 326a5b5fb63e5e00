package buffer_pool

import (
	"container/list"
	"sync"

	"github.com/zhukovaskychina/xnandfs/nandfs/driver"
)

type lruItem struct {
	key   uint32
	value []byte
}

// BufferPool 页缓存: 页地址 -> 4KiB页内容的O(1) LRU。
// 读未命中时整块取回一次性填充128页; 写入同时透传给写暂存;
// 块擦除前先逐出该块的全部页。
type BufferPool struct {
	capacity int
	mu       sync.Mutex

	*stats
	items     map[uint32]*list.Element
	evictList *list.List

	diskManager *driver.DiskManager
}

func NewBufferPool(capacity int, diskManager *driver.DiskManager) *BufferPool {
	return &BufferPool{
		capacity:    capacity,
		stats:       &stats{},
		items:       make(map[uint32]*list.Element),
		evictList:   list.New(),
		diskManager: diskManager,
	}
}

// Read 读一页, 未命中时以整块为单位回填
func (pool *BufferPool) Read(address uint32) []byte {
	if data, ok := pool.getData(address); ok {
		pool.stats.IncrHitCount()
		return data
	}
	pool.stats.IncrMissCount()
	blockNo := address / driver.PagesPerBlock
	block := pool.diskManager.Read(blockNo)
	start := blockNo * driver.PagesPerBlock
	for index, page := range block {
		pool.putData(start+uint32(index), page)
	}
	// 容量小于一块时目标页可能已被逐出, 直接从取回的块中返回
	return block[address-start]
}

// Write 更新缓存并透传到写暂存
func (pool *BufferPool) Write(address uint32, data []byte) {
	pool.putData(address, data)
	pool.diskManager.DiskWrite(address, data)
}

// Erase 逐出该块全部页后执行设备擦除
func (pool *BufferPool) Erase(blockNo uint32) {
	start := blockNo * driver.PagesPerBlock
	end := (blockNo + 1) * driver.PagesPerBlock
	for address := start; address < end; address++ {
		pool.removeData(address)
	}
	pool.diskManager.DiskErase(blockNo)
}

// Flush 强制下盘全部暂存写
func (pool *BufferPool) Flush() {
	pool.diskManager.Flush()
}

func (pool *BufferPool) Len() int {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return pool.evictList.Len()
}

func (pool *BufferPool) getData(address uint32) ([]byte, bool) {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	element, ok := pool.items[address]
	if !ok {
		return nil, false
	}
	pool.evictList.MoveToFront(element)
	item := element.Value.(*lruItem)
	data := make([]byte, len(item.value))
	copy(data, item.value)
	return data, true
}

func (pool *BufferPool) putData(address uint32, data []byte) {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	page := make([]byte, len(data))
	copy(page, data)
	if element, ok := pool.items[address]; ok {
		pool.evictList.MoveToFront(element)
		element.Value.(*lruItem).value = page
		return
	}
	if pool.evictList.Len() >= pool.capacity {
		pool.evict(1)
	}
	item := &lruItem{
		key:   address,
		value: page,
	}
	pool.items[address] = pool.evictList.PushFront(item)
}

func (pool *BufferPool) removeData(address uint32) {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if element, ok := pool.items[address]; ok {
		pool.removeElement(element)
	}
}

// evict removes up to count oldest items from the cache.
func (pool *BufferPool) evict(count int) {
	for i := 0; i < count; i++ {
		element := pool.evictList.Back()
		if element == nil {
			return
		}
		pool.removeElement(element)
	}
}

func (pool *BufferPool) removeElement(element *list.Element) {
	pool.evictList.Remove(element)
	item := element.Value.(*lruItem)
	delete(pool.items, item.key)
}
