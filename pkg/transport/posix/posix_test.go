//go:build linux || darwin || freebsd || netbsd || openbsd

package posix

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/prep/socketpair"
	"github.com/qiminjie89/chanswitch/pkg/transport"
	"github.com/qiminjie89/chanswitch/pkg/transport/transporttest"
	"golang.org/x/sys/unix"
)

func harness() transporttest.Harness {
	return transporttest.Harness{
		NewSwitch: func(t *testing.T, rt *transport.Runtime) *transport.Switch {
			sw, err := NewSwitch(rt, "127.0.0.1:0")
			if err != nil {
				t.Fatalf("NewSwitch: %v", err)
			}
			return sw
		},
		Dial: func(t *testing.T, sw *transport.Switch) io.ReadWriteCloser {
			conn, err := net.DialTimeout("tcp", sw.Addr().String(), 5*time.Second)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			return conn
		},
	}
}

func TestConformance(t *testing.T) {
	transporttest.Run(t, harness())
}

func TestSwitchAddrAssignedPort(t *testing.T) {
	rt := transporttest.Runtime(t)
	sw, err := NewSwitch(rt, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewSwitch: %v", err)
	}
	defer sw.Destroy()

	if err := sw.Listen(1); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr, ok := sw.Addr().(*net.TCPAddr)
	if !ok || addr.Port == 0 {
		t.Fatalf("Addr = %v, want assigned TCP port", sw.Addr())
	}
}

func TestNewSwitchBadAddress(t *testing.T) {
	rt := transporttest.Runtime(t)
	if _, err := NewSwitch(rt, "not-an-address"); err == nil {
		t.Fatal("NewSwitch accepted an invalid address")
	}
}

func TestListenAddressInUse(t *testing.T) {
	rt := transporttest.Runtime(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// Linux 允许 SO_REUSEADDR 套接字绑定到已监听端口，失败推迟到 listen
	sw, err := NewSwitch(rt, ln.Addr().String())
	if err != nil {
		return
	}
	defer sw.Destroy()
	if err := sw.Listen(1); err == nil {
		t.Fatal("Listen succeeded on a port already in use")
	}
}

// socketFD 返回 conn 底层套接字的独立副本
func socketFD(t *testing.T, conn net.Conn) int {
	t.Helper()

	f, err := conn.(*net.UnixConn).File()
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	defer f.Close()

	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		t.Fatalf("dup: %v", err)
	}
	return fd
}

func TestChannelFromFD(t *testing.T) {
	rt := transporttest.Runtime(t)

	local, remote, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer remote.Close()

	fd := socketFD(t, local)
	local.Close()

	ch, err := ChannelFromFD(rt, fd, true)
	if err != nil {
		t.Fatalf("ChannelFromFD: %v", err)
	}
	defer ch.Destroy()

	if _, err := remote.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := transporttest.ReadN(t, ch, 4); string(got) != "ping" {
		t.Fatalf("received %q", got)
	}

	if err := ch.Write([]byte("pong")); err != nil {
		t.Fatalf("channel write: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(remote, buf); err != nil || string(buf) != "pong" {
		t.Fatalf("remote read = %q, %v", buf, err)
	}

	_, writable, err := ch.Wait(false, true, time.Second)
	if err != nil || !writable {
		t.Fatalf("write wait = %v, %v", writable, err)
	}
}

func TestChannelFromFDNotOwned(t *testing.T) {
	rt := transporttest.Runtime(t)

	local, remote, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer remote.Close()
	defer local.Close()

	fd := socketFD(t, local)
	defer unix.Close(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		t.Fatalf("setnonblock: %v", err)
	}

	ch, err := ChannelFromFD(rt, fd, false)
	if err != nil {
		t.Fatalf("ChannelFromFD: %v", err)
	}
	ch.Destroy()

	// 调用方设置的非阻塞模式在 Destroy 后恢复
	fl, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		t.Fatalf("fcntl: %v", err)
	}
	if fl&unix.O_NONBLOCK == 0 {
		t.Fatal("fd left in blocking mode after Destroy")
	}

	// 未移交所有权的描述符在 Destroy 后仍然有效
	if _, err := unix.Write(fd, []byte("still open")); err != nil {
		t.Fatalf("write on caller fd after Destroy: %v", err)
	}
}

func TestChannelFromFDInvalid(t *testing.T) {
	rt := transporttest.Runtime(t)
	if _, err := ChannelFromFD(rt, -1, true); err == nil {
		t.Fatal("ChannelFromFD accepted fd -1")
	}
}

func TestSwitchFromFD(t *testing.T) {
	rt := transporttest.Runtime(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	f, err := ln.(*net.TCPListener).File()
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	fd, err := unix.Dup(int(f.Fd()))
	f.Close()
	if err != nil {
		t.Fatalf("dup: %v", err)
	}

	sw, err := SwitchFromFD(rt, fd, true)
	if err != nil {
		t.Fatalf("SwitchFromFD: %v", err)
	}
	defer sw.Destroy()

	if err := sw.Listen(4); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if sw.Addr().String() != ln.Addr().String() {
		t.Errorf("Addr = %v, want %v", sw.Addr(), ln.Addr())
	}

	h := harness()
	ch, _, client := transporttest.Connect(t, h, sw)
	if _, err := client.Write([]byte("fd")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if got := transporttest.ReadN(t, ch, 2); string(got) != "fd" {
		t.Fatalf("received %q", got)
	}
}
