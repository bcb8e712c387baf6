//go:build linux || darwin || freebsd || netbsd || openbsd

package posix

import (
	"fmt"
	"net"
	"os"

	"github.com/qiminjie89/chanswitch/pkg/transport"
	"golang.org/x/sys/unix"
)

// switchImpl 监听套接字上的交换器实现
type switchImpl struct {
	fd    int
	owned bool
	wake  *wakeup
	local net.Addr
}

// NewSwitch 创建绑定到 addr 的交换器，addr 端口为 0 时由系统分配
func NewSwitch(rt *transport.Runtime, addr string) (*transport.Switch, error) {
	impl, err := bind(addr)
	if err != nil {
		return nil, fmt.Errorf("posix switch on %s: %w", addr, err)
	}
	sw, err := transport.NewSwitch(rt, impl)
	if err != nil {
		_ = impl.Close()
		return nil, err
	}
	return sw, nil
}

// SwitchFromFD 包装调用方提供的监听套接字
//
// owned 为 true 时 Destroy 会关闭 fd。
func SwitchFromFD(rt *transport.Runtime, fd int, owned bool) (*transport.Switch, error) {
	if fd < 0 {
		return nil, errInvalidFD
	}
	impl, err := newSwitchImpl(fd, owned)
	if err != nil {
		return nil, err
	}
	sw, err := transport.NewSwitch(rt, impl)
	if err != nil {
		impl.wake.close()
		return nil, err
	}
	return sw, nil
}

func bind(addr string) (*switchImpl, error) {
	family, sa, err := toSockaddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt SO_REUSEADDR", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}

	impl, err := newSwitchImpl(fd, true)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return impl, nil
}

func newSwitchImpl(fd int, owned bool) (*switchImpl, error) {
	// 监听套接字非阻塞，poll 返回后 accept 被抢先时得到 EAGAIN 而不是挂起
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, os.NewSyscallError("setnonblock", err)
	}
	w, err := newWakeup()
	if err != nil {
		return nil, err
	}

	s := &switchImpl{fd: fd, owned: owned, wake: w}
	if sa, err := unix.Getsockname(fd); err == nil {
		s.local = toAddr(sa)
	}
	return s, nil
}

func (s *switchImpl) Backend() string {
	return Backend
}

func (s *switchImpl) Listen(backlog int) error {
	if _, tcp := s.local.(*net.TCPAddr); tcp {
		if err := unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return os.NewSyscallError("setsockopt TCP_NODELAY", err)
		}
	}
	if err := unix.Listen(s.fd, backlog); err != nil {
		return os.NewSyscallError("listen", err)
	}
	if sa, err := unix.Getsockname(s.fd); err == nil {
		s.local = toAddr(sa)
	}
	return nil
}

func (s *switchImpl) Accept() (transport.ChannelImpl, *transport.ChannelInfo, error) {
	for {
		res, err := s.wake.poll(s.fd, unix.POLLIN, transport.WaitForever)
		if err != nil {
			return nil, nil, err
		}
		if res.interrupted {
			return nil, nil, nil
		}
		if res.revents == 0 {
			continue
		}

		nfd, sa, err := unix.Accept(s.fd)
		switch err {
		case nil:
		case unix.EINTR, unix.EAGAIN, unix.ECONNABORTED:
			continue
		default:
			return nil, nil, os.NewSyscallError("accept", err)
		}
		unix.CloseOnExec(nfd)

		// BSD 系统上新连接继承监听套接字的 O_NONBLOCK，由 newChannelImpl 复位
		if _, tcp := s.local.(*net.TCPAddr); tcp {
			_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		}
		impl, err := newChannelImpl(nfd, true)
		if err != nil {
			unix.Close(nfd)
			return nil, nil, err
		}

		info := &transport.ChannelInfo{
			Backend:   Backend,
			PeerAddr:  toAddr(sa),
			LocalAddr: s.local,
		}
		return impl, info, nil
	}
}

func (s *switchImpl) Interrupt() {
	s.wake.signal()
}

func (s *switchImpl) Addr() net.Addr {
	return s.local
}

func (s *switchImpl) Close() error {
	s.wake.close()
	if !s.owned {
		return nil
	}
	return os.NewSyscallError("close", unix.Close(s.fd))
}
