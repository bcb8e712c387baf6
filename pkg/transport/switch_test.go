package transport

import (
	"errors"
	"testing"
	"time"
)

func newTestSwitch(t *testing.T, m *mockSwitch) (*Switch, *Runtime) {
	t.Helper()
	rt := activeRuntime(t)
	sw, err := NewSwitch(rt, m)
	if err != nil {
		t.Fatalf("NewSwitch: %v", err)
	}
	return sw, rt
}

func TestSwitchLifecycle(t *testing.T) {
	m := newMockSwitch()
	sw, rt := newTestSwitch(t, m)

	if sw.State() != SwitchCreated {
		t.Fatalf("state = %v, want created", sw.State())
	}
	if _, _, err := sw.Accept(); !errors.Is(err, ErrNotListening) {
		t.Fatalf("Accept before Listen error = %v", err)
	}

	if err := sw.Listen(0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if m.backlog != DefaultBacklog {
		t.Errorf("backlog = %d, want default %d", m.backlog, DefaultBacklog)
	}
	if sw.State() != SwitchListening {
		t.Fatalf("state = %v, want listening", sw.State())
	}
	if err := sw.Listen(1); !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("second Listen error = %v", err)
	}

	peer := newMockChannel()
	m.conns <- peer
	ch, info, err := sw.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if ch == nil || info == nil {
		t.Fatal("Accept returned nil channel without error")
	}
	if info.Attrs["origin"] != "mock" || info.ID != ch.ID() {
		t.Errorf("info = %+v", info)
	}
	if rt.Live() != 2 {
		t.Errorf("live = %d, want 2", rt.Live())
	}

	ch.Destroy()
	sw.Destroy()
	if sw.State() != SwitchDestroyed {
		t.Fatalf("state = %v, want destroyed", sw.State())
	}
	if m.closes != 1 || peer.closes != 1 {
		t.Errorf("closes: switch %d, channel %d", m.closes, peer.closes)
	}
	if rt.Live() != 0 {
		t.Errorf("live = %d, want 0", rt.Live())
	}
}

func TestSwitchListenFailure(t *testing.T) {
	m := newMockSwitch()
	m.listenErr = errors.New("address already in use")
	sw, _ := newTestSwitch(t, m)
	defer sw.Destroy()

	err := sw.Listen(1)
	if !errors.Is(err, m.listenErr) {
		t.Fatalf("Listen error = %v", err)
	}
	if sw.State() != SwitchCreated {
		t.Errorf("state = %v after failed listen", sw.State())
	}
}

func TestSwitchInterruptUnblocksAccept(t *testing.T) {
	m := newMockSwitch()
	sw, _ := newTestSwitch(t, m)
	defer sw.Destroy()

	if err := sw.Listen(1); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	type result struct {
		ch  *Channel
		err error
	}
	done := make(chan result, 1)
	go func() {
		ch, _, err := sw.Accept()
		done <- result{ch, err}
	}()

	time.Sleep(10 * time.Millisecond)
	sw.Interrupt()

	select {
	case res := <-done:
		if res.ch != nil || res.err != nil {
			t.Fatalf("Accept = %v, %v; want nil, nil", res.ch, res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not return after Interrupt")
	}
}

func TestSwitchDoubleDestroyPanics(t *testing.T) {
	m := newMockSwitch()
	sw, _ := newTestSwitch(t, m)

	sw.Destroy()
	expectMisuse(t, ErrDestroyed, sw.Destroy)
	expectMisuse(t, ErrDestroyed, func() { _ = sw.Listen(1) })
	expectMisuse(t, ErrDestroyed, func() { _, _, _ = sw.Accept() })
	expectMisuse(t, ErrDestroyed, sw.Interrupt)
	if m.closes != 1 {
		t.Errorf("backend closed %d times, want 1", m.closes)
	}
}

func TestNewSwitchRequiresRuntime(t *testing.T) {
	if _, err := NewSwitch(NewRuntime(), newMockSwitch()); !errors.Is(err, ErrRuntimeInactive) {
		t.Fatalf("NewSwitch error = %v, want ErrRuntimeInactive", err)
	}
}
