// Package netconn 基于 net.Conn / net.Listener 的可移植后端
//
// 在无法直接使用 poll(2) 的平台（Windows）上作为默认实现。就绪检测通过
// syscall.RawConn 交给运行时网络轮询器完成，超时与中断统一用读截止时间表达。
package netconn

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

// aLongTimeAgo 设置为截止时间可令阻塞中的读/accept 立即返回
var aLongTimeAgo = time.Unix(1, 0)

// Waiter 用截止时间实现可中断的阻塞等待
//
// 一次等待由 Begin 和 End 包围。Interrupt 在有人等待时把截止时间拨到过去，
// 否则记录一个挂起中断，下一次 Begin 直接消费它。
type Waiter struct {
	mu          sync.Mutex
	setDeadline func(time.Time) error
	waiting     bool
	pending     bool
	interrupted bool
	wake        chan struct{}
}

// NewWaiter 创建等待器，setDeadline 通常是 SetReadDeadline 或 SetDeadline
func NewWaiter(setDeadline func(time.Time) error) *Waiter {
	return &Waiter{
		setDeadline: setDeadline,
		wake:        make(chan struct{}, 1),
	}
}

// Begin 开始一次等待并设置截止时间
//
// 返回 false 表示已有挂起中断，调用方应直接按中断处理。
func (w *Waiter) Begin(timeout time.Duration) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending {
		w.pending = false
		return false, nil
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	if w.setDeadline != nil {
		if err := w.setDeadline(deadline); err != nil {
			return false, err
		}
	}
	w.waiting = true
	w.interrupted = false
	return true, nil
}

// End 结束等待并清除截止时间，返回等待期间是否被中断
func (w *Waiter) End() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.waiting = false
	interrupted := w.interrupted
	w.interrupted = false
	if w.setDeadline != nil {
		_ = w.setDeadline(time.Time{})
	}
	select {
	case <-w.wake:
	default:
	}
	return interrupted
}

// Interrupt 唤醒当前等待，无人等待时作用于下一次 Begin
func (w *Waiter) Interrupt() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.waiting {
		w.pending = true
		return
	}
	w.interrupted = true
	if w.setDeadline != nil {
		_ = w.setDeadline(aLongTimeAgo)
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Sleep 不关心 I/O 的等待：直到超时或被中断
func (w *Waiter) Sleep(timeout time.Duration) (bool, error) {
	ok, err := w.Begin(timeout)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}

	var timer <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-w.wake:
	case <-timer:
	}
	return w.End(), nil
}

// IsTimeout 判断错误是否由截止时间到达引起
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
