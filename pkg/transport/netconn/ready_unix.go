//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package netconn

import "golang.org/x/sys/unix"

// readyCheck 返回 RawConn.Read 的回调：用 MSG_PEEK 探测是否可读
//
// 轮询器的就绪通知是边沿触发的，缓冲区中残留的数据不会再次通知，
// 因此每次回调都直接探测套接字。
func readyCheck() func(fd uintptr) bool {
	return func(fd uintptr) bool {
		var b [1]byte
		for {
			_, _, err := unix.Recvfrom(int(fd), b[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
			switch err {
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return false
			}
			// 有数据、对端关闭或出错，随后的 Read 都不会阻塞
			return true
		}
	}
}
