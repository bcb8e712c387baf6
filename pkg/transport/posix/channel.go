//go:build linux || darwin || freebsd || netbsd || openbsd

package posix

import (
	"errors"
	"math"
	"net"
	"os"
	"time"

	"github.com/qiminjie89/chanswitch/pkg/transport"
	"golang.org/x/sys/unix"
)

// Backend 后端名称
const Backend = "posix"

var errInvalidFD = errors.New("invalid file descriptor")

// channelImpl 已连接套接字上的通道实现
type channelImpl struct {
	fd       int
	owned    bool
	nonblock bool // 接管前 fd 的 O_NONBLOCK 状态，不拥有 fd 时关闭后恢复
	wake     *wakeup
}

func newChannelImpl(fd int, owned bool) (*channelImpl, error) {
	if fd < 0 {
		return nil, errInvalidFD
	}
	fl, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return nil, os.NewSyscallError("fcntl", err)
	}
	c := &channelImpl{fd: fd, owned: owned, nonblock: fl&unix.O_NONBLOCK != 0}

	// 读写依赖阻塞语义，就绪由 poll 判断
	if err := unix.SetNonblock(fd, false); err != nil {
		return nil, os.NewSyscallError("setnonblock", err)
	}
	w, err := newWakeup()
	if err != nil {
		c.restore()
		return nil, err
	}
	c.wake = w
	return c, nil
}

// restore 把调用方仍持有的 fd 恢复为接管前的阻塞模式
func (c *channelImpl) restore() {
	if !c.owned && c.nonblock {
		_ = unix.SetNonblock(c.fd, true)
	}
}

// ChannelFromFD 将已连接的套接字描述符包装为 Channel
//
// owned 为 true 时 Destroy 会关闭 fd，否则 fd 仍归调用方所有。
func ChannelFromFD(rt *transport.Runtime, fd int, owned bool) (*transport.Channel, error) {
	impl, err := newChannelImpl(fd, owned)
	if err != nil {
		return nil, err
	}

	info := &transport.ChannelInfo{Backend: Backend}
	if sa, err := unix.Getsockname(fd); err == nil {
		info.LocalAddr = toAddr(sa)
	}

	ch, err := transport.NewChannel(rt, impl, info)
	if err != nil {
		impl.wake.close()
		impl.restore()
		return nil, err
	}
	return ch, nil
}

func (c *channelImpl) Backend() string {
	return Backend
}

func (c *channelImpl) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(c.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, os.NewSyscallError("read", err)
		}
		return n, nil
	}
}

func (c *channelImpl) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(c.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if n < 0 {
				n = 0
			}
			return n, os.NewSyscallError("write", err)
		}
		return n, nil
	}
}

func (c *channelImpl) Wait(forRead, forWrite bool, timeout time.Duration) (transport.WaitResult, error) {
	var events int16
	if forRead {
		events |= unix.POLLIN
	}
	if forWrite {
		events |= unix.POLLOUT
	}

	res, err := c.wake.poll(c.fd, events, timeout)
	if err != nil {
		return transport.WaitResult{}, err
	}

	// 对端关闭或出错也视为可读，由随后的 Read 报告结果
	const hup = unix.POLLHUP | unix.POLLERR
	return transport.WaitResult{
		Readable:    forRead && res.revents&(unix.POLLIN|hup) != 0,
		Writable:    forWrite && res.revents&(unix.POLLOUT|hup) != 0,
		Interrupted: res.interrupted,
	}, nil
}

func (c *channelImpl) Interrupt() {
	c.wake.signal()
}

func (c *channelImpl) PeerAddr() (net.Addr, error) {
	sa, err := unix.Getpeername(c.fd)
	if err != nil {
		return nil, os.NewSyscallError("getpeername", err)
	}
	return toAddr(sa), nil
}

func (c *channelImpl) MaxChunk() int {
	return math.MaxInt32
}

func (c *channelImpl) Close() error {
	c.wake.close()
	if !c.owned {
		c.restore()
		return nil
	}
	return os.NewSyscallError("close", unix.Close(c.fd))
}
