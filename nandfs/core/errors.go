package core

import "errors"

// 元数据与地址映射错误, 多数不变量破坏直接panic, 此处只保留可返回的哨兵
var (
	ErrMainRegionTooSmall = errors.New("device too small for metadata layout")
	ErrIncoherentTables   = errors.New("BIT/PIT tables incoherent")
)
