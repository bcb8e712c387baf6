package transport

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

var errMockBroken = errors.New("mock: broken pipe")

// mockChannel 用于核心逻辑测试的内存后端
type mockChannel struct {
	mu sync.Mutex

	maxPerWrite int // 单次 Write 最多接受的字节数，<= 0 不限
	maxChunk    int
	breakAfter  int // 累计写入超过该值后报错，<= 0 不启用
	written     []byte
	writeCalls  int

	pending   []byte // 待读数据
	maxRead   int    // 单次 Read 最多返回的字节数
	readCalls int
	eof       bool

	interruptCh chan struct{}
	closes      int
	peer        net.Addr
	peerErr     error
}

func newMockChannel() *mockChannel {
	return &mockChannel{
		interruptCh: make(chan struct{}, 1),
		peer:        &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4242},
	}
}

func (m *mockChannel) Backend() string { return "mock" }

func (m *mockChannel) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++
	if len(m.pending) == 0 {
		if m.eof {
			return 0, nil
		}
		return 0, errMockBroken
	}
	n := len(p)
	if m.maxRead > 0 && n > m.maxRead {
		n = m.maxRead
	}
	n = copy(p[:n], m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *mockChannel) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++
	n := len(p)
	if m.maxPerWrite > 0 && n > m.maxPerWrite {
		n = m.maxPerWrite
	}
	if m.breakAfter > 0 && len(m.written)+n > m.breakAfter {
		n = m.breakAfter - len(m.written)
		m.written = append(m.written, p[:n]...)
		return n, errMockBroken
	}
	m.written = append(m.written, p[:n]...)
	return n, nil
}

func (m *mockChannel) Wait(forRead, forWrite bool, timeout time.Duration) (WaitResult, error) {
	m.mu.Lock()
	readable := forRead && (len(m.pending) > 0 || m.eof)
	m.mu.Unlock()
	if readable || forWrite {
		return WaitResult{Readable: readable, Writable: forWrite}, nil
	}

	var timer <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-m.interruptCh:
		return WaitResult{Interrupted: true}, nil
	case <-timer:
		return WaitResult{}, nil
	}
}

func (m *mockChannel) Interrupt() {
	select {
	case m.interruptCh <- struct{}{}:
	default:
	}
}

func (m *mockChannel) PeerAddr() (net.Addr, error) {
	return m.peer, m.peerErr
}

func (m *mockChannel) MaxChunk() int { return m.maxChunk }

func (m *mockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// mockSwitch 内存交换器后端
type mockSwitch struct {
	mu          sync.Mutex
	listenErr   error
	listened    int
	backlog     int
	conns       chan *mockChannel
	interruptCh chan struct{}
	closes      int
}

func newMockSwitch() *mockSwitch {
	return &mockSwitch{
		conns:       make(chan *mockChannel, 4),
		interruptCh: make(chan struct{}, 1),
	}
}

func (m *mockSwitch) Backend() string { return "mock" }

func (m *mockSwitch) Listen(backlog int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listenErr != nil {
		return m.listenErr
	}
	m.listened++
	m.backlog = backlog
	return nil
}

func (m *mockSwitch) Accept() (ChannelImpl, *ChannelInfo, error) {
	select {
	case c := <-m.conns:
		return c, &ChannelInfo{Attrs: map[string]string{"origin": "mock"}}, nil
	case <-m.interruptCh:
		return nil, nil, nil
	}
}

func (m *mockSwitch) Interrupt() {
	select {
	case m.interruptCh <- struct{}{}:
	default:
	}
}

func (m *mockSwitch) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
}

func (m *mockSwitch) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func activeRuntime(t testing.TB) *Runtime {
	t.Helper()
	rt := NewRuntime()
	if err := rt.Init(); err != nil {
		t.Fatalf("runtime init: %v", err)
	}
	t.Cleanup(rt.Term)
	return rt
}

// expectMisuse 断言 fn 以 UsageError 形式 panic，且包装了 want
func expectMisuse(t testing.TB, want error, fn func()) {
	t.Helper()

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		fn()
	}()

	if recovered == nil {
		t.Fatalf("expected panic wrapping %v, got none", want)
	}
	err, ok := recovered.(error)
	if !ok {
		t.Fatalf("panic value %v is not an error", recovered)
	}
	var ue *UsageError
	if !errors.As(err, &ue) {
		t.Fatalf("panic value %v is not a *UsageError", err)
	}
	if !errors.Is(err, want) {
		t.Fatalf("panic %v does not wrap %v", err, want)
	}
}
