package wsconn

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Stream 将 WebSocket 连接适配为 io.ReadWriteCloser，供客户端使用
//
// 写入的每个缓冲区作为一条二进制消息发送；读取跨消息边界拼接。
type Stream struct {
	conn *websocket.Conn
	r    io.Reader
}

// NewStream 包装已建立的连接
func NewStream(conn *websocket.Conn) *Stream {
	return &Stream{conn: conn}
}

// Dial 连接 WebSocket 服务端，url 形如 ws://host:port/ws
func Dial(ctx context.Context, url string, header http.Header) (*Stream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: DefaultHandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return NewStream(conn), nil
}

// Conn 返回底层连接
func (s *Stream) Conn() *websocket.Conn {
	return s.conn
}

func (s *Stream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			s.r = r
		}

		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *Stream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close 发送关闭帧后关闭连接
func (s *Stream) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	return s.conn.Close()
}
