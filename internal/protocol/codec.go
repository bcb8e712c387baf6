package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode 使用 msgpack 编码
func Encode(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode 使用 msgpack 解码
func Decode(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// NewFrame 编码 body 并组装为帧，body 为 nil 时负载为空
func NewFrame(msgType uint32, seq uint64, body interface{}) (*Frame, error) {
	f := &Frame{MsgType: msgType, Seq: seq}
	if body == nil {
		return f, nil
	}

	payload, err := Encode(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", MsgTypeName(msgType), err)
	}
	if len(payload) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	f.Payload = payload
	return f, nil
}

// DecodeBody 解码帧负载
func DecodeBody(f *Frame, v interface{}) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", MsgTypeName(f.MsgType))
	}
	if err := Decode(f.Payload, v); err != nil {
		return fmt.Errorf("decode %s body: %w", MsgTypeName(f.MsgType), err)
	}
	return nil
}
