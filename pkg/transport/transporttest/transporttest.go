// Package transporttest 提供各后端共用的一致性测试
//
// 后端测试构造 Harness 并调用 Run，即可覆盖 hello 场景、
// 往返字节保真、Wait/Accept 中断以及对端关闭。
package transporttest

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/qiminjie89/chanswitch/pkg/transport"
)

// 单步操作的超时上限
const stepTimeout = 5 * time.Second

// Harness 被测后端的构造方式
type Harness struct {
	// NewSwitch 在回环地址的 0 端口上创建尚未 Listen 的交换器
	NewSwitch func(t *testing.T, rt *transport.Runtime) *transport.Switch
	// Dial 以客户端身份连接到已监听的交换器
	Dial func(t *testing.T, sw *transport.Switch) io.ReadWriteCloser
}

// Run 执行全部一致性用例
func Run(t *testing.T, h Harness) {
	t.Run("Hello", func(t *testing.T) { testHello(t, h) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, h) })
	t.Run("InterruptWait", func(t *testing.T) { testInterruptWait(t, h) })
	t.Run("InterruptAccept", func(t *testing.T) { testInterruptAccept(t, h) })
	t.Run("PeerClose", func(t *testing.T) { testPeerClose(t, h) })
}

// Runtime 返回已初始化的运行时，测试结束时释放
func Runtime(t *testing.T) *transport.Runtime {
	t.Helper()
	rt := transport.NewRuntime()
	if err := rt.Init(); err != nil {
		t.Fatalf("runtime init: %v", err)
	}
	t.Cleanup(rt.Term)
	return rt
}

// Listening 创建并监听交换器，测试结束时销毁
func Listening(t *testing.T, h Harness, rt *transport.Runtime, backlog int) *transport.Switch {
	t.Helper()
	sw := h.NewSwitch(t, rt)
	t.Cleanup(sw.Destroy)
	if err := sw.Listen(backlog); err != nil {
		t.Fatalf("listen: %v", err)
	}
	return sw
}

// Connect 建立一条连接，返回服务端 Channel 与客户端
//
// Accept 与 Dial 并发进行，握手发生在 Accept 内部的后端同样适用。
func Connect(t *testing.T, h Harness, sw *transport.Switch) (*transport.Channel, *transport.ChannelInfo, io.ReadWriteCloser) {
	t.Helper()

	type accepted struct {
		ch   *transport.Channel
		info *transport.ChannelInfo
		err  error
	}
	done := make(chan accepted, 1)
	go func() {
		for {
			ch, info, err := sw.Accept()
			if ch == nil && err == nil {
				continue
			}
			done <- accepted{ch, info, err}
			return
		}
	}()

	client := h.Dial(t, sw)
	t.Cleanup(func() { client.Close() })

	select {
	case a := <-done:
		if a.err != nil {
			t.Fatalf("accept: %v", a.err)
		}
		t.Cleanup(a.ch.Destroy)
		return a.ch, a.info, client
	case <-time.After(stepTimeout):
		t.Fatal("accept did not return")
	}
	return nil, nil, nil
}

// ReadN 通过 Wait/Read 从 Channel 读取恰好 n 字节
func ReadN(t *testing.T, ch *transport.Channel, n int) []byte {
	t.Helper()

	out := make([]byte, 0, n)
	buf := make([]byte, 64*1024)
	for len(out) < n {
		readable, _, err := ch.Wait(true, false, stepTimeout)
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		if !readable {
			t.Fatalf("wait timed out after %d of %d bytes", len(out), n)
		}

		want := n - len(out)
		if want > len(buf) {
			want = len(buf)
		}
		got, err := ch.Read(buf[:want])
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got == 0 {
			t.Fatalf("peer closed after %d of %d bytes", len(out), n)
		}
		out = append(out, buf[:got]...)
	}
	return out
}

func testHello(t *testing.T, h Harness) {
	rt := Runtime(t)
	sw := Listening(t, h, rt, 1)

	ch, info, client := Connect(t, h, sw)
	if info == nil || info.ID != ch.ID() {
		t.Fatalf("accept info = %+v", info)
	}
	if peer := ch.FormatPeerInfo(); strings.HasPrefix(peer, "[unknown") {
		t.Errorf("FormatPeerInfo = %q", peer)
	}

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	got := ReadN(t, ch, 5)
	if string(got) != "hello" {
		t.Fatalf("received %q, want %q", got, "hello")
	}
}

func testRoundTrip(t *testing.T, h Harness) {
	rt := Runtime(t)
	sw := Listening(t, h, rt, 4)
	ch, _, client := Connect(t, h, sw)

	for _, size := range []int{0, 1, 1 << 20} {
		payload := pattern(size)

		// 客户端 -> Channel
		errc := make(chan error, 1)
		go func() {
			if size == 0 {
				errc <- nil
				return
			}
			_, err := client.Write(payload)
			errc <- err
		}()
		got := ReadN(t, ch, size)
		if err := <-errc; err != nil {
			t.Fatalf("size %d: client write: %v", size, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("size %d: inbound bytes differ", size)
		}

		// Channel -> 客户端
		go func() {
			errc <- ch.Write(payload)
		}()
		back := make([]byte, size)
		if _, err := io.ReadFull(client, back); err != nil {
			t.Fatalf("size %d: client read: %v", size, err)
		}
		select {
		case err := <-errc:
			if err != nil {
				t.Fatalf("size %d: channel write: %v", size, err)
			}
		case <-time.After(stepTimeout):
			t.Fatalf("size %d: channel write did not return", size)
		}
		if !bytes.Equal(back, payload) {
			t.Fatalf("size %d: outbound bytes differ", size)
		}
	}

	if ch.BytesIn() != 1<<20+1 || ch.BytesOut() != 1<<20+1 {
		t.Errorf("counters in=%d out=%d", ch.BytesIn(), ch.BytesOut())
	}
}

func testInterruptWait(t *testing.T, h Harness) {
	rt := Runtime(t)
	sw := Listening(t, h, rt, 1)
	ch, _, client := Connect(t, h, sw)

	type result struct {
		readable bool
		err      error
	}
	done := make(chan result, 1)
	go func() {
		r, _, err := ch.Wait(true, false, transport.WaitForever)
		done <- result{r, err}
	}()

	time.Sleep(50 * time.Millisecond)
	ch.Interrupt()

	select {
	case res := <-done:
		if res.err != nil || res.readable {
			t.Fatalf("interrupted wait = %+v", res)
		}
	case <-time.After(stepTimeout):
		t.Fatal("wait did not return after interrupt")
	}

	// 中断自动复位：下一次等待应当超时而不是立即返回
	start := time.Now()
	r, _, err := ch.Wait(true, false, 100*time.Millisecond)
	if err != nil || r {
		t.Fatalf("wait after interrupt = %v, %v", r, err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("wait returned after %v, interrupt did not reset", elapsed)
	}

	// 无人等待时的中断作用于下一次等待
	ch.Interrupt()
	start = time.Now()
	if r, _, err := ch.Wait(true, false, stepTimeout); err != nil || r {
		t.Fatalf("primed wait = %v, %v", r, err)
	}
	if time.Since(start) > stepTimeout/2 {
		t.Fatal("primed interrupt was lost")
	}

	// 通道仍可用
	if _, err := client.Write([]byte("x")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if got := ReadN(t, ch, 1); string(got) != "x" {
		t.Fatalf("received %q after interrupts", got)
	}
}

func testInterruptAccept(t *testing.T, h Harness) {
	rt := Runtime(t)
	sw := Listening(t, h, rt, 1)

	type result struct {
		ch  *transport.Channel
		err error
	}
	done := make(chan result, 1)
	go func() {
		ch, _, err := sw.Accept()
		done <- result{ch, err}
	}()

	time.Sleep(50 * time.Millisecond)
	sw.Interrupt()

	select {
	case res := <-done:
		if res.ch != nil || res.err != nil {
			if res.ch != nil {
				res.ch.Destroy()
			}
			t.Fatalf("interrupted accept = %v, %v", res.ch, res.err)
		}
	case <-time.After(stepTimeout):
		t.Fatal("accept did not return after interrupt")
	}

	// 交换器仍可接受连接
	ch, _, client := Connect(t, h, sw)
	if _, err := client.Write([]byte("ok")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if got := ReadN(t, ch, 2); string(got) != "ok" {
		t.Fatalf("received %q", got)
	}
}

func testPeerClose(t *testing.T, h Harness) {
	rt := Runtime(t)
	sw := Listening(t, h, rt, 1)
	ch, _, client := Connect(t, h, sw)

	if err := client.Close(); err != nil {
		t.Fatalf("client close: %v", err)
	}

	readable, _, err := ch.Wait(true, false, stepTimeout)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !readable {
		t.Fatal("peer close did not make channel readable")
	}

	n, err := ch.Read(make([]byte, 16))
	if n != 0 || err != nil {
		t.Fatalf("read after peer close = %d, %v; want 0, nil", n, err)
	}
}

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + i>>8)
	}
	return p
}
