//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package netconn

// readyCheck 返回 RawConn.Read 的回调：第一次要求等待，被唤醒后即视为可读
//
// Windows 上运行时以零字节读等待可读，缓冲区有数据时立即完成。
func readyCheck() func(fd uintptr) bool {
	first := true
	return func(uintptr) bool {
		if first {
			first = false
			return false
		}
		return true
	}
}
