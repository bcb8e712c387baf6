package netconn

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/qiminjie89/chanswitch/pkg/transport"
)

// ErrNoDeadline 监听器不支持 SetDeadline，无法中断 Accept
var ErrNoDeadline = errors.New("listener does not support deadlines")

type deadlineListener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// Listener 可中断的 net.Listener 包装
type Listener struct {
	ln     deadlineListener
	waiter *Waiter

	mu    sync.Mutex
	stash net.Conn // 中断发生时已经取到的连接，留给下一次 AcceptConn
}

// NewListener 包装监听器
func NewListener(ln net.Listener) (*Listener, error) {
	dl, ok := ln.(deadlineListener)
	if !ok {
		return nil, ErrNoDeadline
	}
	return &Listener{
		ln:     dl,
		waiter: NewWaiter(dl.SetDeadline),
	}, nil
}

// AcceptConn 阻塞直到有新连接；被 Interrupt 唤醒时返回 (nil, nil)
//
// 连接中止等瞬时错误在内部重试。
func (l *Listener) AcceptConn() (net.Conn, error) {
	l.mu.Lock()
	if c := l.stash; c != nil {
		l.stash = nil
		l.mu.Unlock()
		return c, nil
	}
	l.mu.Unlock()

	for {
		ok, err := l.waiter.Begin(transport.WaitForever)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}

		conn, err := l.ln.Accept()
		interrupted := l.waiter.End()

		switch {
		case err == nil && interrupted:
			l.mu.Lock()
			l.stash = conn
			l.mu.Unlock()
			return nil, nil
		case err == nil:
			return conn, nil
		case interrupted && IsTimeout(err):
			return nil, nil
		case IsTimeout(err), isTransient(err):
			continue
		default:
			return nil, err
		}
	}
}

// Interrupt 唤醒阻塞在 AcceptConn 上的调用
func (l *Listener) Interrupt() {
	l.waiter.Interrupt()
}

// Addr 返回监听地址
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close 关闭监听器及暂存的连接
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.stash != nil {
		l.stash.Close()
		l.stash = nil
	}
	l.mu.Unlock()
	return l.ln.Close()
}

func isTransient(err error) bool {
	return errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EINTR)
}
