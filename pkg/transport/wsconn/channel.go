package wsconn

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/qiminjie89/chanswitch/pkg/transport"
)

// closeGrace 发送关闭帧的写超时
const closeGrace = time.Second

type message struct {
	data []byte
	err  error
}

// channelImpl WebSocket 连接上的通道实现
//
// gorilla 的读超时会使连接永久失效，因此由独立协程阻塞读取消息，
// Wait 在消息、中断与定时器之间 select。
type channelImpl struct {
	conn     *websocket.Conn
	maxChunk int

	msgs        chan message
	interruptCh chan struct{}
	done        chan struct{}
	closeOnce   sync.Once

	cur    []byte
	closed bool  // 对端关闭
	err    error // 不可恢复的读错误
}

func newChannelImpl(conn *websocket.Conn, maxChunk int, readLimit int64) *channelImpl {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	c := &channelImpl{
		conn:        conn,
		maxChunk:    maxChunk,
		msgs:        make(chan message),
		interruptCh: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// ChannelFromConn 将已建立的 WebSocket 连接包装为 Channel，连接所有权随之转移
func ChannelFromConn(rt *transport.Runtime, conn *websocket.Conn) (*transport.Channel, error) {
	impl := newChannelImpl(conn, DefaultMaxMessage, 0)
	ch, err := transport.NewChannel(rt, impl, &transport.ChannelInfo{
		Backend:   Backend,
		PeerAddr:  conn.RemoteAddr(),
		LocalAddr: conn.LocalAddr(),
	})
	if err != nil {
		impl.Close()
		return nil, err
	}
	return ch, nil
}

func (c *channelImpl) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		select {
		case c.msgs <- message{data: data, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *channelImpl) Backend() string {
	return Backend
}

// take 保存一条消息；关闭帧按正常关闭处理
func (c *channelImpl) take(m message) {
	if m.err == nil {
		c.cur = m.data
		return
	}
	var ce *websocket.CloseError
	if errors.As(m.err, &ce) {
		c.closed = true
		return
	}
	c.err = m.err
}

func (c *channelImpl) ready() bool {
	return len(c.cur) > 0 || c.closed || c.err != nil
}

func (c *channelImpl) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for !c.ready() {
		c.take(<-c.msgs)
	}

	if len(c.cur) > 0 {
		n := copy(p, c.cur)
		c.cur = c.cur[n:]
		return n, nil
	}
	if c.err != nil {
		return 0, c.err
	}
	return 0, nil
}

func (c *channelImpl) Write(p []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Wait 写方向总是立即报告可写：消息写入会阻塞到完成
func (c *channelImpl) Wait(forRead, forWrite bool, timeout time.Duration) (transport.WaitResult, error) {
	if forWrite || (forRead && c.ready()) {
		return transport.WaitResult{
			Readable: forRead && c.ready(),
			Writable: forWrite,
		}, nil
	}

	var timer <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	msgs := c.msgs
	if !forRead {
		msgs = nil
	}
	for {
		select {
		case m := <-msgs:
			c.take(m)
			// 空消息不产生可读数据，继续等待
			if c.ready() {
				return transport.WaitResult{Readable: true}, nil
			}
		case <-c.interruptCh:
			return transport.WaitResult{Interrupted: true}, nil
		case <-timer:
			return transport.WaitResult{}, nil
		}
	}
}

func (c *channelImpl) Interrupt() {
	select {
	case c.interruptCh <- struct{}{}:
	default:
	}
}

func (c *channelImpl) PeerAddr() (net.Addr, error) {
	return c.conn.RemoteAddr(), nil
}

func (c *channelImpl) MaxChunk() int {
	return c.maxChunk
}

func (c *channelImpl) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = c.conn.Close()
	})
	return err
}
