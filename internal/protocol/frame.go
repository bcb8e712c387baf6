package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

/*
流上的消息帧格式（大端）：
+----------+----------+----------+------------------+
|  MsgType |   Seq    |  Length  |     Payload      |
|  4 bytes |  8 bytes |  4 bytes |   变长 (msgpack)  |
+----------+----------+----------+------------------+
*/

const (
	HeaderSize    = 16      // 4 + 8 + 4
	MaxPayloadLen = 1 << 20 // 1MB
)

var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrInvalidFrame    = errors.New("invalid frame")
)

// Frame 表示一个消息帧
type Frame struct {
	MsgType uint32
	Seq     uint64
	Payload []byte
}

// Size 返回编码后的字节数
func (f *Frame) Size() int {
	return HeaderSize + len(f.Payload)
}

// EncodeFrame 编码消息帧
func EncodeFrame(f *Frame) []byte {
	buf := make([]byte, f.Size())
	putHeader(buf, f.MsgType, f.Seq, uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// DecodeFrame 解码一个完整的消息帧
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidFrame
	}

	msgType, seq, payloadLen := parseHeader(data)
	if payloadLen > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}

	expectedLen := HeaderSize + int(payloadLen)
	if len(data) < expectedLen {
		return nil, ErrInvalidFrame
	}

	return &Frame{
		MsgType: msgType,
		Seq:     seq,
		Payload: clonePayload(data[HeaderSize:expectedLen]),
	}, nil
}

// ReadFrame 从 reader 读取一个帧
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	msgType, seq, payloadLen := parseHeader(header)
	if payloadLen > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	return &Frame{
		MsgType: msgType,
		Seq:     seq,
		Payload: payload,
	}, nil
}

// WriteFrame 写入一个帧到 writer
func WriteFrame(w io.Writer, f *Frame) error {
	_, err := w.Write(EncodeFrame(f))
	return err
}

// FrameReader 增量解帧器
//
// 通道的一次 Read 可能只交付半个帧，也可能交付多个帧。Feed 追加收到的字节，
// Next 在缓冲区凑齐一个完整帧时返回它，否则返回 (nil, nil)。
type FrameReader struct {
	buf []byte
}

// Feed 追加收到的字节
func (r *FrameReader) Feed(p []byte) {
	r.buf = append(r.buf, p...)
}

// Next 取出下一个完整帧
//
// 头部声明的长度超过上限时返回 ErrPayloadTooLarge，此后流已不可恢复。
func (r *FrameReader) Next() (*Frame, error) {
	if len(r.buf) < HeaderSize {
		return nil, nil
	}

	msgType, seq, payloadLen := parseHeader(r.buf)
	if payloadLen > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	total := HeaderSize + int(payloadLen)
	if len(r.buf) < total {
		return nil, nil
	}

	f := &Frame{
		MsgType: msgType,
		Seq:     seq,
		Payload: clonePayload(r.buf[HeaderSize:total]),
	}

	// 剩余字节前移，避免缓冲区无限增长
	n := copy(r.buf, r.buf[total:])
	r.buf = r.buf[:n]
	return f, nil
}

// Buffered 返回尚未组成完整帧的字节数
func (r *FrameReader) Buffered() int {
	return len(r.buf)
}

func putHeader(buf []byte, msgType uint32, seq uint64, length uint32) {
	binary.BigEndian.PutUint32(buf[0:4], msgType)
	binary.BigEndian.PutUint64(buf[4:12], seq)
	binary.BigEndian.PutUint32(buf[12:16], length)
}

func parseHeader(buf []byte) (uint32, uint64, uint32) {
	return binary.BigEndian.Uint32(buf[0:4]),
		binary.BigEndian.Uint64(buf[4:12]),
		binary.BigEndian.Uint32(buf[12:16])
}

func clonePayload(p []byte) []byte {
	if len(p) == 0 {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
