package kv

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xnandfs/logger"
	"github.com/zhukovaskychina/xnandfs/util"
)

// InodeStore inode号 -> inode记录的持久映射。
// 记录在内存中以编码后的帧存放, 读取时解码, 更新时重新编码;
// 可整体落到data-dir下的快照文件, 挂载时恢复。
type InodeStore struct {
	mu      sync.Mutex
	nextIno uint32
	records map[uint32][]byte
	codec   *RecordCodec
}

func NewInodeStore(codec *RecordCodec) *InodeStore {
	return &InodeStore{
		nextIno: 1,
		records: make(map[uint32][]byte),
		codec:   codec,
	}
}

// AllocateInode 发放新的inode号并登记空记录
func (s *InodeStore) AllocateInode() *RawInode {
	s.mu.Lock()
	defer s.mu.Unlock()
	ino := s.nextIno
	s.nextIno++
	raw := &RawInode{
		Ino:  ino,
		Data: []RawEntry{},
	}
	s.putLocked(raw)
	return raw.Copy()
}

func (s *InodeStore) GetInode(ino uint32) *RawInode {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[ino]
	if !ok {
		panic(fmt.Sprintf("InodeStore: get no that inode %d", ino))
	}
	raw, err := s.codec.Decode(record)
	if err != nil {
		logger.Errorf("InodeStore: decode inode %d: %v", ino, err)
		panic(err)
	}
	return raw
}

func (s *InodeStore) UpdateInode(raw *RawInode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[raw.Ino]; !ok {
		panic(fmt.Sprintf("InodeStore: update no that inode %d", raw.Ino))
	}
	s.putLocked(raw)
}

func (s *InodeStore) DeleteInode(ino uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[ino]; !ok {
		panic(fmt.Sprintf("InodeStore: delete no that inode %d", ino))
	}
	delete(s.records, ino)
}

func (s *InodeStore) Contains(ino uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[ino]
	return ok
}

func (s *InodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *InodeStore) putLocked(raw *RawInode) {
	record, err := s.codec.Encode(raw)
	if err != nil {
		logger.Errorf("InodeStore: encode inode %d: %v", raw.Ino, err)
		panic(err)
	}
	s.records[raw.Ino] = record
}

// 快照文件格式: nextIno(4 BE) count(4 BE) 然后count个 len(4 BE)+frame

// SaveToFile 将全部记录落盘
func (s *InodeStore) SaveToFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inos := make([]uint32, 0, len(s.records))
	for ino := range s.records {
		inos = append(inos, ino)
	}
	sort.Slice(inos, func(i, j int) bool { return inos[i] < inos[j] })

	buf := make([]byte, 0, 64)
	buf = append(buf, util.ConvertUInt4Bytes(s.nextIno)...)
	buf = append(buf, util.ConvertUInt4Bytes(uint32(len(inos)))...)
	for _, ino := range inos {
		record := s.records[ino]
		buf = append(buf, util.ConvertUInt4Bytes(uint32(len(record)))...)
		buf = append(buf, record...)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return errors.Annotatef(err, "save inode store to %s", path)
	}
	logger.Debugf("InodeStore: saved %d records to %s", len(inos), path)
	return nil
}

// LoadFromFile 从快照恢复; 文件不存在视为空库
func (s *InodeStore) LoadFromFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Annotatef(err, "load inode store from %s", path)
	}
	if len(buf) < 8 {
		return errors.Errorf("inode store snapshot %s truncated", path)
	}
	s.nextIno = util.ReadUB4Byte2UInt32(buf[0:4])
	count := util.ReadUB4Byte2UInt32(buf[4:8])
	s.records = make(map[uint32][]byte, count)
	cursor := uint32(8)
	for i := uint32(0); i < count; i++ {
		if uint32(len(buf)) < cursor+4 {
			return errors.Errorf("inode store snapshot %s truncated", path)
		}
		recordLen := util.ReadUB4Byte2UInt32(buf[cursor : cursor+4])
		cursor += 4
		if uint32(len(buf)) < cursor+recordLen {
			return errors.Errorf("inode store snapshot %s truncated", path)
		}
		record := make([]byte, recordLen)
		copy(record, buf[cursor:cursor+recordLen])
		cursor += recordLen
		raw, err := s.codec.Decode(record)
		if err != nil {
			return errors.Annotatef(err, "decode record %d in %s", i, path)
		}
		s.records[raw.Ino] = record
	}
	logger.Debugf("InodeStore: loaded %d records from %s", count, path)
	return nil
}
