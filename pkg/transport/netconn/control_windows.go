//go:build windows

package netconn

import (
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

// control 监听套接字创建后、bind 之前的选项设置
//
// Windows 上 SO_REUSEADDR 允许端口被抢占，不设置。
func control(network, _ string, c syscall.RawConn) error {
	if !strings.HasPrefix(network, "tcp") {
		return nil
	}
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_TCP, windows.TCP_NODELAY, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
