package gc

// GCEventGroup 一次回收计划: 若干Move后接一个Erase, 按Index升序执行
type GCEventGroup struct {
	Events []GCEvent
}

type GCEvent interface {
	EventIndex() uint32
}

// MoveGCEvent 以页连续段为单位的搬移
type MoveGCEvent struct {
	Index    uint32
	Ino      uint32
	Size     uint32 // 段内页数
	OAddress uint32 // 源首页地址
	DAddress uint32 // 目的首页地址
}

func (e MoveGCEvent) EventIndex() uint32 {
	return e.Index
}

// EraseGCEvent 以块为单位的擦除
type EraseGCEvent struct {
	Index   uint32
	BlockNo uint32
}

func (e EraseGCEvent) EventIndex() uint32 {
	return e.Index
}
