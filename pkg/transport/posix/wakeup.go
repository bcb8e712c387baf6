//go:build linux || darwin || freebsd || netbsd || openbsd

// Package posix 基于原始套接字描述符与 poll(2) 的参考后端
//
// 每个 Channel/Switch 持有一对非阻塞自管道，读端参与每一次 poll，
// Interrupt 向写端写入一个字节，等待返回时将读端排空，中断因此自动复位。
package posix

import (
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// wakeup 自管道中断源
type wakeup struct {
	r, w int
	once sync.Once
}

func newWakeup() (*wakeup, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, os.NewSyscallError("pipe", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, os.NewSyscallError("setnonblock", err)
		}
	}
	return &wakeup{r: p[0], w: p[1]}, nil
}

// signal 写入一个字节；管道已满说明已有未消费的中断，忽略 EAGAIN
func (w *wakeup) signal() {
	b := [1]byte{1}
	for {
		_, err := unix.Write(w.w, b[:])
		if err == unix.EINTR {
			continue
		}
		return
	}
}

// drain 排空读端
func (w *wakeup) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.r, buf[:])
		if n > 0 {
			continue
		}
		if err == unix.EINTR {
			continue
		}
		return
	}
}

func (w *wakeup) close() {
	w.once.Do(func() {
		unix.Close(w.r)
		unix.Close(w.w)
	})
}

// pollResult 一次 poll 的结果
type pollResult struct {
	revents     int16
	interrupted bool
}

// poll 等待 fd 上的 events 或中断；timeout < 0 表示不设超时
//
// 被信号打断时按剩余时间重试。返回零值结果表示超时。
func (w *wakeup) poll(fd int, events int16, timeout time.Duration) (pollResult, error) {
	fds := []unix.PollFd{
		{Fd: int32(fd), Events: events},
		{Fd: int32(w.r), Events: unix.POLLIN},
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		ms := -1
		if timeout >= 0 {
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			ms = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}

		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return pollResult{}, os.NewSyscallError("poll", err)
		}
		if n == 0 {
			return pollResult{}, nil
		}

		var res pollResult
		if fds[1].Revents != 0 {
			w.drain()
			res.interrupted = true
		}
		res.revents = fds[0].Revents
		if res.revents&unix.POLLNVAL != 0 {
			return res, os.NewSyscallError("poll", unix.EBADF)
		}
		return res, nil
	}
}
