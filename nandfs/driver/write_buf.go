package driver

// WriteBuf 暂存的一页写入
type WriteBuf struct {
	Address uint32
	Data    []byte
}

// WriteCache 写入暂存区: 最多128页按插入序暂存, 攒满一批后整体下盘。
// 同地址重复写覆盖原暂存; 块擦除前通过RecallWrite撤回该块的暂存写。
type WriteCache struct {
	capacity int
	cache    []WriteBuf
	table    map[uint32]int
	sync     bool
}

func NewWriteCache() *WriteCache {
	return &WriteCache{
		capacity: PagesPerBlock,
		cache:    make([]WriteBuf, 0, PagesPerBlock),
		table:    make(map[uint32]int),
	}
}

func (w *WriteCache) Write(address uint32, data []byte) {
	if len(w.cache) == w.capacity {
		panic("WriteCache: write has too much buf")
	}
	page := make([]byte, len(data))
	copy(page, data)
	buf := WriteBuf{
		Address: address,
		Data:    page,
	}
	if index, ok := w.table[address]; ok {
		w.cache[index] = buf
	} else {
		w.table[address] = len(w.cache)
		w.cache = append(w.cache, buf)
	}
	if len(w.cache) == w.capacity {
		w.sync = true
	}
}

func (w *WriteCache) Read(address uint32) ([]byte, bool) {
	index, ok := w.table[address]
	if !ok {
		return nil, false
	}
	return w.cache[index].Data, true
}

// GetAll 按插入序返回全部暂存写
func (w *WriteCache) GetAll() []WriteBuf {
	buf := make([]WriteBuf, len(w.cache))
	copy(buf, w.cache)
	return buf
}

func (w *WriteCache) RecallWrite(address uint32) {
	index, ok := w.table[address]
	if !ok {
		return
	}
	w.cache = append(w.cache[:index], w.cache[index+1:]...)
	delete(w.table, address)
	// 后续元素下标整体前移
	for i := index; i < len(w.cache); i++ {
		w.table[w.cache[i].Address] = i
	}
}

func (w *WriteCache) Contains(address uint32) bool {
	_, ok := w.table[address]
	return ok
}

func (w *WriteCache) Len() int {
	return len(w.cache)
}

func (w *WriteCache) NeedSync() bool {
	return w.sync
}

func (w *WriteCache) Sync() {
	w.sync = false
	w.cache = w.cache[:0]
	w.table = make(map[uint32]int)
}
