package transport

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/qiminjie89/chanswitch/pkg/metrics"
	"go.uber.org/zap"
)

// SwitchState Switch 状态
type SwitchState int32

const (
	SwitchCreated   SwitchState = iota // 已创建，未监听
	SwitchListening                    // 监听中
	SwitchDestroyed                    // 已销毁
)

func (s SwitchState) String() string {
	switch s {
	case SwitchCreated:
		return "created"
	case SwitchListening:
		return "listening"
	case SwitchDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Switch 连接交换器：持有监听端点并为每个入站连接产出 Channel
type Switch struct {
	rt      *Runtime
	impl    SwitchImpl
	backend string
	trace   *zap.Logger

	state atomic.Int32
}

// NewSwitch 用后端实现构造 Switch
func NewSwitch(rt *Runtime, impl SwitchImpl) (*Switch, error) {
	if !rt.Active() {
		return nil, ErrRuntimeInactive
	}

	s := &Switch{
		rt:      rt,
		impl:    impl,
		backend: impl.Backend(),
	}
	s.trace = rt.swTrace.With(zap.String("backend", s.backend))
	s.state.Store(int32(SwitchCreated))

	rt.live.Add(1)
	s.trace.Debug("created")
	return s, nil
}

// Backend 返回后端名称
func (s *Switch) Backend() string {
	return s.backend
}

// State 返回当前状态
func (s *Switch) State() SwitchState {
	return SwitchState(s.state.Load())
}

// Addr 返回本地地址（绑定端口 0 时用于获取实际端口）
func (s *Switch) Addr() net.Addr {
	s.mustLive("Switch.Addr")
	return s.impl.Addr()
}

// Listen 进入监听状态
//
// 失败时返回描述性错误，Switch 不可再用，调用方应将其 Destroy。
func (s *Switch) Listen(backlog int) error {
	s.mustLive("Switch.Listen")

	if s.State() == SwitchListening {
		return ErrAlreadyListening
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	if err := s.impl.Listen(backlog); err != nil {
		s.trace.Debug("listen failed", zap.Error(err))
		return fmt.Errorf("%s switch listen: %w", s.backend, err)
	}
	if !s.state.CompareAndSwap(int32(SwitchCreated), int32(SwitchListening)) {
		misuse("Switch.Listen", ErrDestroyed)
	}

	metrics.SwitchesListening.WithLabelValues(s.backend).Inc()
	s.trace.Debug("listening", zap.Int("backlog", backlog), zap.Stringer("addr", s.impl.Addr()))
	return nil
}

// Accept 阻塞直到有入站连接，返回新 Channel 及其元数据
//
// 被 Interrupt 唤醒时返回 (nil, nil, nil)，调用方可再次 Accept。
// 可重试的瞬时错误由后端内部处理，不会返回。
func (s *Switch) Accept() (*Channel, *ChannelInfo, error) {
	s.mustLive("Switch.Accept")

	if s.State() != SwitchListening {
		return nil, nil, ErrNotListening
	}

	impl, info, err := s.impl.Accept()
	if err != nil {
		metrics.SwitchAccepts.WithLabelValues(s.backend, "error").Inc()
		s.trace.Debug("accept failed", zap.Error(err))
		return nil, nil, fmt.Errorf("%s switch accept: %w", s.backend, err)
	}
	if impl == nil {
		metrics.SwitchAccepts.WithLabelValues(s.backend, "interrupted").Inc()
		s.trace.Debug("accept interrupted")
		return nil, nil, nil
	}

	ch, err := NewChannel(s.rt, impl, info)
	if err != nil {
		_ = impl.Close()
		metrics.SwitchAccepts.WithLabelValues(s.backend, "error").Inc()
		return nil, nil, fmt.Errorf("%s switch accept: %w", s.backend, err)
	}

	metrics.SwitchAccepts.WithLabelValues(s.backend, "ok").Inc()
	s.trace.Debug("accepted",
		zap.String("channel_id", ch.ID()),
		zap.String("peer", ch.info.Peer()),
	)
	return ch, ch.Info(), nil
}

// Interrupt 唤醒阻塞在 Accept 上的调用
func (s *Switch) Interrupt() {
	s.mustLive("Switch.Interrupt")

	metrics.Interrupts.WithLabelValues("switch").Inc()
	s.trace.Debug("interrupt")
	s.impl.Interrupt()
}

// Destroy 释放监听资源并使 Switch 失效
//
// 重复 Destroy 属于编程错误，会 panic。
func (s *Switch) Destroy() {
	var prev int32
	for {
		prev = s.state.Load()
		if prev == int32(SwitchDestroyed) {
			misuse("Switch.Destroy", ErrDestroyed)
		}
		if s.state.CompareAndSwap(prev, int32(SwitchDestroyed)) {
			break
		}
	}

	if prev == int32(SwitchListening) {
		metrics.SwitchesListening.WithLabelValues(s.backend).Dec()
	}
	if err := s.impl.Close(); err != nil {
		s.rt.logger().Debug("switch backend close failed",
			zap.String("backend", s.backend),
			zap.Error(err),
		)
	}

	s.rt.live.Add(-1)
	s.trace.Debug("destroyed")
}

func (s *Switch) mustLive(op string) {
	if s.State() == SwitchDestroyed {
		misuse(op, ErrDestroyed)
	}
}
