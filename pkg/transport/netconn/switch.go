package netconn

import (
	"context"
	"fmt"
	"net"

	"github.com/qiminjie89/chanswitch/pkg/transport"
)

// SwitchImpl net.Listener 上的交换器实现
//
// Go 运行时自行决定监听队列深度，backlog 参数被忽略。
type SwitchImpl struct {
	network string
	addr    string
	backend string
	ln      *Listener
	owned   bool
}

// NewSwitchImpl 创建尚未监听的交换器实现
func NewSwitchImpl(network, addr, backend string) *SwitchImpl {
	if backend == "" {
		backend = Backend
	}
	return &SwitchImpl{network: network, addr: addr, backend: backend, owned: true}
}

// NewSwitch 创建在 addr 上监听 TCP 的交换器
func NewSwitch(rt *transport.Runtime, addr string) (*transport.Switch, error) {
	return transport.NewSwitch(rt, NewSwitchImpl("tcp", addr, Backend))
}

// SwitchFromListener 包装调用方提供的监听器
//
// owned 为 true 时 Destroy 会关闭监听器。Listen 对其为空操作。
func SwitchFromListener(rt *transport.Runtime, ln net.Listener, owned bool) (*transport.Switch, error) {
	l, err := NewListener(ln)
	if err != nil {
		return nil, err
	}
	impl := &SwitchImpl{
		network: ln.Addr().Network(),
		addr:    ln.Addr().String(),
		backend: Backend,
		ln:      l,
		owned:   owned,
	}
	return transport.NewSwitch(rt, impl)
}

func (s *SwitchImpl) Backend() string {
	return s.backend
}

func (s *SwitchImpl) Listen(int) error {
	if s.ln != nil {
		return nil
	}

	lc := net.ListenConfig{Control: control}
	ln, err := lc.Listen(context.Background(), s.network, s.addr)
	if err != nil {
		return err
	}
	l, err := NewListener(ln)
	if err != nil {
		ln.Close()
		return err
	}
	s.ln = l
	return nil
}

// AcceptConn 接受一个原始连接；被中断时返回 (nil, nil)
func (s *SwitchImpl) AcceptConn() (net.Conn, error) {
	if s.ln == nil {
		return nil, fmt.Errorf("%s: %w", s.addr, transport.ErrNotListening)
	}
	return s.ln.AcceptConn()
}

func (s *SwitchImpl) Accept() (transport.ChannelImpl, *transport.ChannelInfo, error) {
	conn, err := s.AcceptConn()
	if err != nil || conn == nil {
		return nil, nil, err
	}

	info := &transport.ChannelInfo{
		Backend:   s.backend,
		PeerAddr:  conn.RemoteAddr(),
		LocalAddr: conn.LocalAddr(),
	}
	return NewChannelImpl(conn, true, s.backend), info, nil
}

func (s *SwitchImpl) Interrupt() {
	if s.ln != nil {
		s.ln.Interrupt()
	}
}

func (s *SwitchImpl) Addr() net.Addr {
	if s.ln != nil {
		return s.ln.Addr()
	}
	if addr, err := net.ResolveTCPAddr("tcp", s.addr); err == nil {
		return addr
	}
	return nil
}

func (s *SwitchImpl) Close() error {
	if s.ln == nil || !s.owned {
		return nil
	}
	return s.ln.Close()
}
