package kv

import (
	"bytes"
	"fmt"

	"github.com/golang/snappy"
	"github.com/juju/errors"
	"github.com/pierrec/lz4/v4"

	"github.com/zhukovaskychina/xnandfs/util"
)

// 压缩方法常量
const (
	COMPRESSION_NONE   uint8 = iota // 不压缩
	COMPRESSION_SNAPPY              // snappy压缩
	COMPRESSION_LZ4                 // lz4块压缩
)

// 记录帧魔数
var recordMagic = []byte{0xC0, 0x4E, 0x44, 0x52}

const recordHeaderSize = 4 + 1 + 4 + 8 // magic + method + rawLen + checksum

var (
	ErrBadRecordMagic    = errors.New("bad inode record magic")
	ErrBadRecordChecksum = errors.New("inode record checksum mismatch")
	ErrShortRecord       = errors.New("inode record too short")
)

// RecordCodec inode记录的盘上编解码器。
// 帧格式: magic(4) method(1) rawLen(4 BE) checksum(8 BE, 原始载荷xxhash) payload。
// 压缩无收益时退回明文存储, method按实际落盘方法记录。
type RecordCodec struct {
	method uint8
}

func NewRecordCodec(method uint8) *RecordCodec {
	switch method {
	case COMPRESSION_NONE, COMPRESSION_SNAPPY, COMPRESSION_LZ4:
	default:
		panic(fmt.Sprintf("RecordCodec: unknown compression method %d", method))
	}
	return &RecordCodec{method: method}
}

// ParseCompression 配置名到方法常量
func ParseCompression(name string) uint8 {
	switch name {
	case "snappy":
		return COMPRESSION_SNAPPY
	case "lz4":
		return COMPRESSION_LZ4
	default:
		return COMPRESSION_NONE
	}
}

func (c *RecordCodec) Encode(raw *RawInode) ([]byte, error) {
	payload := marshalRawInode(raw)
	checksum := util.HashCode(payload)

	method := c.method
	body := payload
	switch c.method {
	case COMPRESSION_SNAPPY:
		compressed := snappy.Encode(nil, payload)
		if len(compressed) < len(payload) {
			body = compressed
		} else {
			method = COMPRESSION_NONE
		}
	case COMPRESSION_LZ4:
		var compressor lz4.Compressor
		dst := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := compressor.CompressBlock(payload, dst)
		if err != nil {
			return nil, errors.Annotate(err, "lz4 compress inode record")
		}
		if n > 0 && n < len(payload) {
			body = dst[:n]
		} else {
			method = COMPRESSION_NONE
		}
	}

	var buf bytes.Buffer
	buf.Write(recordMagic)
	buf.WriteByte(method)
	buf.Write(util.ConvertUInt4Bytes(uint32(len(payload))))
	buf.Write(util.ConvertULong8Bytes(checksum))
	buf.Write(body)
	return buf.Bytes(), nil
}

func (c *RecordCodec) Decode(data []byte) (*RawInode, error) {
	if len(data) < recordHeaderSize {
		return nil, errors.Trace(ErrShortRecord)
	}
	if !bytes.Equal(data[0:4], recordMagic) {
		return nil, errors.Trace(ErrBadRecordMagic)
	}
	method := data[4]
	rawLen := util.ReadUB4Byte2UInt32(data[5:9])
	checksum := util.ReadUB8Byte2ULong(data[9:17])
	body := data[recordHeaderSize:]

	var payload []byte
	switch method {
	case COMPRESSION_NONE:
		payload = body
	case COMPRESSION_SNAPPY:
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, errors.Annotate(err, "snappy decode inode record")
		}
		payload = decoded
	case COMPRESSION_LZ4:
		decoded := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(body, decoded)
		if err != nil {
			return nil, errors.Annotate(err, "lz4 decode inode record")
		}
		payload = decoded[:n]
	default:
		return nil, errors.Errorf("unknown inode record compression %d", method)
	}
	if uint32(len(payload)) != rawLen {
		return nil, errors.Trace(ErrShortRecord)
	}
	if util.HashCode(payload) != checksum {
		return nil, errors.Trace(ErrBadRecordChecksum)
	}
	return unmarshalRawInode(payload)
}

func marshalRawInode(raw *RawInode) []byte {
	var buf bytes.Buffer
	buf.Write(util.ConvertUInt4Bytes(raw.Ino))
	buf.WriteByte(raw.FileType)
	buf.Write(util.ConvertUInt4Bytes(raw.Size))
	buf.Write(util.ConvertUInt4Bytes(raw.Uid))
	buf.Write(util.ConvertUInt2Bytes(raw.Gid))
	buf.WriteByte(raw.NLink)
	buf.WriteByte(raw.RefCnt)
	buf.Write(util.ConvertUInt4Bytes(uint32(len(raw.Data))))
	for _, entry := range raw.Data {
		buf.Write(util.ConvertUInt4Bytes(entry.Offset))
		buf.Write(util.ConvertUInt4Bytes(entry.Len))
		buf.Write(util.ConvertUInt4Bytes(entry.Size))
		buf.Write(util.ConvertUInt4Bytes(entry.Address))
	}
	return buf.Bytes()
}

func unmarshalRawInode(payload []byte) (*RawInode, error) {
	const headerSize = 4 + 1 + 4 + 4 + 2 + 1 + 1 + 4
	if len(payload) < headerSize {
		return nil, errors.Trace(ErrShortRecord)
	}
	raw := &RawInode{}
	raw.Ino = util.ReadUB4Byte2UInt32(payload[0:4])
	raw.FileType = payload[4]
	raw.Size = util.ReadUB4Byte2UInt32(payload[5:9])
	raw.Uid = util.ReadUB4Byte2UInt32(payload[9:13])
	raw.Gid = util.ReadUB2Byte2UInt16(payload[13:15])
	raw.NLink = payload[15]
	raw.RefCnt = payload[16]
	count := util.ReadUB4Byte2UInt32(payload[17:21])
	rest := payload[21:]
	if uint32(len(rest)) != count*16 {
		return nil, errors.Trace(ErrShortRecord)
	}
	raw.Data = make([]RawEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		chunk := rest[i*16 : (i+1)*16]
		raw.Data = append(raw.Data, RawEntry{
			Offset:  util.ReadUB4Byte2UInt32(chunk[0:4]),
			Len:     util.ReadUB4Byte2UInt32(chunk[4:8]),
			Size:    util.ReadUB4Byte2UInt32(chunk[8:12]),
			Address: util.ReadUB4Byte2UInt32(chunk[12:16]),
		})
	}
	return raw, nil
}
