//go:build unix

package netconn

import (
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// control 监听套接字创建后、bind 之前的选项设置
func control(network, _ string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if serr == nil && strings.HasPrefix(network, "tcp") {
			serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		}
	})
	if err != nil {
		return err
	}
	return serr
}
