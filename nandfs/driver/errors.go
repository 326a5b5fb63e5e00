package driver

import "errors"

// 设备层错误
var (
	ErrPageOutOfRange  = errors.New("page address out of range")
	ErrBlockOutOfRange = errors.New("block number out of range")
	ErrPageNotClean    = errors.New("page not clean")
	ErrBadPageSize     = errors.New("page data must be exactly one page")
	ErrDiskFileSize    = errors.New("disk file size does not match geometry")
)
