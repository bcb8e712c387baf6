//go:build unix

package transport

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// platformState 记录一次性初始化时探测到的进程资源上限
type platformState struct {
	nofileCur uint64
	nofileMax uint64
}

func platformStartup() (platformState, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		// 探测失败不影响套接字使用
		return platformState{}, nil
	}
	return platformState{nofileCur: uint64(lim.Cur), nofileMax: uint64(lim.Max)}, nil
}

func platformShutdown(platformState) error {
	return nil
}

func (s platformState) fields() []zap.Field {
	return []zap.Field{
		zap.Uint64("nofile_cur", s.nofileCur),
		zap.Uint64("nofile_max", s.nofileMax),
	}
}
