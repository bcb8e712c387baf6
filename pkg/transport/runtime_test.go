package transport

import (
	"sync"
	"testing"
)

func TestRuntimeInitTermBalance(t *testing.T) {
	rt := NewRuntime()
	if rt.Active() {
		t.Fatal("new runtime is active")
	}

	const n = 5
	for i := 0; i < n; i++ {
		if err := rt.Init(); err != nil {
			t.Fatalf("Init #%d: %v", i, err)
		}
	}
	if rt.Refs() != n {
		t.Fatalf("refs = %d, want %d", rt.Refs(), n)
	}
	for i := 0; i < n; i++ {
		rt.Term()
	}
	if rt.Refs() != 0 || rt.Active() {
		t.Fatalf("refs = %d after balanced term", rt.Refs())
	}

	// 归零后可以重新初始化
	if err := rt.Init(); err != nil {
		t.Fatalf("re-Init: %v", err)
	}
	rt.Term()
}

func TestRuntimeUnbalancedTermPanics(t *testing.T) {
	rt := NewRuntime()
	expectMisuse(t, ErrUnbalancedTerm, rt.Term)

	if err := rt.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	rt.Term()
	expectMisuse(t, ErrUnbalancedTerm, rt.Term)
}

func TestRuntimeConcurrentInitTerm(t *testing.T) {
	rt := NewRuntime()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rt.Init(); err != nil {
				t.Errorf("Init: %v", err)
				return
			}
			rt.Term()
		}()
	}
	wg.Wait()

	if rt.Refs() != 0 {
		t.Fatalf("refs = %d after concurrent init/term", rt.Refs())
	}
}

func TestTraceFromEnv(t *testing.T) {
	t.Setenv(EnvTraceChannel, "")
	tc := TraceFromEnv()
	if !tc.Channel {
		t.Error("empty value should enable channel tracing")
	}

	rt := NewRuntime(WithTrace(TraceConfig{Switch: true}))
	if got := rt.Trace(); !got.Channel || !got.Switch {
		t.Errorf("merged trace = %+v", got)
	}
}
