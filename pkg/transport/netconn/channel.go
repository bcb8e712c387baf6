package netconn

import (
	"errors"
	"io"
	"math"
	"net"
	"syscall"
	"time"

	"github.com/qiminjie89/chanswitch/pkg/transport"
)

// Backend 后端名称
const Backend = "netconn"

// 暂存读缓冲区大小，用于无法访问原始描述符的连接（如 TLS）
const stageSize = 16 * 1024

var errNoPeer = errors.New("connection has no remote address")

// ChannelImpl net.Conn 上的通道实现
//
// 连接实现 syscall.Conn 时，可读性通过 RawConn 探测而不消费数据；
// 否则 Wait 以带截止时间的 Read 把数据读入暂存区，随后的 Read 优先返回暂存数据。
type ChannelImpl struct {
	conn    net.Conn
	owned   bool
	backend string
	waiter  *Waiter
	raw     syscall.RawConn

	stage  []byte
	staged []byte
	eof    bool
}

// NewChannelImpl 包装已连接的 net.Conn
func NewChannelImpl(conn net.Conn, owned bool, backend string) *ChannelImpl {
	if backend == "" {
		backend = Backend
	}
	c := &ChannelImpl{
		conn:    conn,
		owned:   owned,
		backend: backend,
		waiter:  NewWaiter(conn.SetReadDeadline),
	}
	if sc, ok := conn.(syscall.Conn); ok {
		if raw, err := sc.SyscallConn(); err == nil {
			c.raw = raw
		}
	}
	if c.raw == nil {
		c.stage = make([]byte, stageSize)
	}
	return c
}

// ChannelFromConn 将已连接的 net.Conn 包装为 Channel
//
// owned 为 true 时 Destroy 会关闭连接。
func ChannelFromConn(rt *transport.Runtime, conn net.Conn, owned bool) (*transport.Channel, error) {
	impl := NewChannelImpl(conn, owned, Backend)
	return transport.NewChannel(rt, impl, &transport.ChannelInfo{
		Backend:   Backend,
		PeerAddr:  conn.RemoteAddr(),
		LocalAddr: conn.LocalAddr(),
	})
}

// Conn 返回底层连接
func (c *ChannelImpl) Conn() net.Conn {
	return c.conn
}

func (c *ChannelImpl) Backend() string {
	return c.backend
}

func (c *ChannelImpl) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(c.staged) > 0 {
		n := copy(p, c.staged)
		c.staged = c.staged[n:]
		return n, nil
	}
	if c.eof {
		return 0, nil
	}

	n, err := c.conn.Read(p)
	if errors.Is(err, io.EOF) {
		c.eof = true
		return n, nil
	}
	return n, err
}

func (c *ChannelImpl) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

// Wait 写方向总是立即报告可写：net.Conn 的写会阻塞到全部完成
func (c *ChannelImpl) Wait(forRead, forWrite bool, timeout time.Duration) (transport.WaitResult, error) {
	if forWrite {
		return transport.WaitResult{
			Readable: forRead && c.buffered(),
			Writable: true,
		}, nil
	}
	if !forRead {
		interrupted, err := c.waiter.Sleep(timeout)
		return transport.WaitResult{Interrupted: interrupted}, err
	}
	if c.buffered() {
		return transport.WaitResult{Readable: true}, nil
	}

	if c.raw != nil {
		return c.waitRaw(timeout)
	}
	return c.waitStaged(timeout)
}

func (c *ChannelImpl) buffered() bool {
	return len(c.staged) > 0 || c.eof
}

func (c *ChannelImpl) waitRaw(timeout time.Duration) (transport.WaitResult, error) {
	ok, err := c.waiter.Begin(timeout)
	if err != nil {
		return c.readThrough()
	}
	if !ok {
		return transport.WaitResult{Interrupted: true}, nil
	}

	err = c.raw.Read(readyCheck())
	interrupted := c.waiter.End()

	switch {
	case err == nil:
		return transport.WaitResult{Readable: true, Interrupted: interrupted}, nil
	case IsTimeout(err):
		return transport.WaitResult{Interrupted: interrupted}, nil
	default:
		return transport.WaitResult{}, err
	}
}

func (c *ChannelImpl) waitStaged(timeout time.Duration) (transport.WaitResult, error) {
	ok, err := c.waiter.Begin(timeout)
	if err != nil {
		return c.readThrough()
	}
	if !ok {
		return transport.WaitResult{Interrupted: true}, nil
	}

	n, err := c.conn.Read(c.stage)
	interrupted := c.waiter.End()

	if n > 0 {
		c.staged = c.stage[:n]
	}
	switch {
	case errors.Is(err, io.EOF):
		c.eof = true
	case err != nil && IsTimeout(err):
	case err != nil:
		return transport.WaitResult{}, err
	}

	readable := c.buffered()
	return transport.WaitResult{
		Readable:    readable,
		Interrupted: interrupted && !readable,
	}, nil
}

// readThrough 截止时间设置失败（连接通常已被对端关闭）时直接读一次
//
// 读到的数据进入暂存区，连接已关闭视为 EOF，由随后的 Read 报告。
func (c *ChannelImpl) readThrough() (transport.WaitResult, error) {
	if c.stage == nil {
		c.stage = make([]byte, stageSize)
	}
	n, err := c.conn.Read(c.stage)
	if n > 0 {
		c.staged = c.stage[:n]
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
		c.eof = true
	default:
		return transport.WaitResult{}, err
	}
	return transport.WaitResult{Readable: c.buffered()}, nil
}

func (c *ChannelImpl) Interrupt() {
	c.waiter.Interrupt()
}

func (c *ChannelImpl) PeerAddr() (net.Addr, error) {
	addr := c.conn.RemoteAddr()
	if addr == nil {
		return nil, errNoPeer
	}
	return addr, nil
}

func (c *ChannelImpl) MaxChunk() int {
	return math.MaxInt32
}

func (c *ChannelImpl) Close() error {
	if !c.owned {
		return nil
	}
	return c.conn.Close()
}
