// Package protocol 定义通道之上的帧协议：消息类型、帧编解码与消息体
package protocol

import "fmt"

// 客户端 ↔ 服务端消息类型
const (
	// 客户端 → 服务端
	MsgTypeAuth      uint32 = 0x0001 // 认证请求
	MsgTypeEcho      uint32 = 0x0002 // 回显
	MsgTypeInfo      uint32 = 0x0003 // 查询通道信息
	MsgTypeHeartbeat uint32 = 0x00FF // 心跳

	// 服务端 → 客户端
	MsgTypeAuthResp      uint32 = 0x1001 // 认证响应
	MsgTypeEchoResp      uint32 = 0x1002 // 回显响应
	MsgTypeInfoResp      uint32 = 0x1003 // 通道信息响应
	MsgTypeHeartbeatResp uint32 = 0x10FF // 心跳响应
	MsgTypeError         uint32 = 0x1FFF // 错误
)

var msgTypeNames = map[uint32]string{
	MsgTypeAuth:          "auth",
	MsgTypeEcho:          "echo",
	MsgTypeInfo:          "info",
	MsgTypeHeartbeat:     "heartbeat",
	MsgTypeAuthResp:      "auth_resp",
	MsgTypeEchoResp:      "echo_resp",
	MsgTypeInfoResp:      "info_resp",
	MsgTypeHeartbeatResp: "heartbeat_resp",
	MsgTypeError:         "error",
}

// MsgTypeName 返回消息类型名称，用于日志与指标标签
func MsgTypeName(t uint32) string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown_0x%04x", t)
}

// IsRequest 判断是否为客户端发起的消息
func IsRequest(t uint32) bool {
	return t < 0x1000
}

// ResponseType 返回请求对应的响应类型
func ResponseType(t uint32) uint32 {
	return t | 0x1000
}

// AuthRequest 认证请求
type AuthRequest struct {
	Token  string `msgpack:"token"`
	UserID string `msgpack:"user_id,omitempty"` // 兼容开发环境
}

// AuthResponse 认证响应
type AuthResponse struct {
	Success  bool   `msgpack:"success"`
	UserID   string `msgpack:"user_id,omitempty"`
	ServerID string `msgpack:"server_id,omitempty"`
	Code     int    `msgpack:"code"`
	Message  string `msgpack:"message,omitempty"`
}

// EchoBody 回显请求与响应
type EchoBody struct {
	Data []byte `msgpack:"data"`
}

// InfoResponse 通道信息
type InfoResponse struct {
	ChannelID string            `msgpack:"channel_id"`
	Backend   string            `msgpack:"backend"`
	Peer      string            `msgpack:"peer"`
	ServerID  string            `msgpack:"server_id"`
	UserID    string            `msgpack:"user_id,omitempty"`
	BytesIn   uint64            `msgpack:"bytes_in"`
	BytesOut  uint64            `msgpack:"bytes_out"`
	Attrs     map[string]string `msgpack:"attrs,omitempty"`
}

// HeartbeatBody 心跳请求与响应
type HeartbeatBody struct {
	Timestamp int64 `msgpack:"ts"` // 毫秒
}

// ErrorBody 错误消息体
type ErrorBody struct {
	Code    int    `msgpack:"code"`
	Message string `msgpack:"message"`
}

func (e *ErrorBody) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}
