package transport

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/qiminjie89/chanswitch/pkg/logger"
	"github.com/qiminjie89/chanswitch/pkg/metrics"
	"go.uber.org/zap"
)

// Runtime 传输层运行时句柄
//
// 应用创建一次并注入到每个 Switch/Channel 构造函数。Init/Term 按引用计数配对，
// 计数从 0 变为 1 时执行平台初始化（如 Windows 上的 WSAStartup），
// 回到 0 时执行对应的清理。
type Runtime struct {
	mu       sync.Mutex
	refs     int
	platform platformState

	log     *zap.Logger
	trace   TraceConfig
	chTrace *zap.Logger
	swTrace *zap.Logger

	live atomic.Int64 // 存活的 Channel/Switch 数量
}

// Option Runtime 选项
type Option func(*Runtime)

// WithLogger 指定运行时日志
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) {
		r.log = l
	}
}

// WithTrace 追加追踪配置（与环境变量合并）
func WithTrace(tc TraceConfig) Option {
	return func(r *Runtime) {
		r.trace = r.trace.Merge(tc)
	}
}

// NewRuntime 创建运行时
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		trace: TraceFromEnv(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.chTrace = tracer(r.trace.Channel, "channel")
	r.swTrace = tracer(r.trace.Switch, "switch")
	return r
}

// Init 增加引用计数，首次调用时执行平台初始化
func (r *Runtime) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs == 0 {
		st, err := platformStartup()
		if err != nil {
			return fmt.Errorf("transport runtime startup: %w", err)
		}
		r.platform = st
		r.logger().Debug("transport runtime started", st.fields()...)
	}
	r.refs++
	metrics.RuntimeRefs.Inc()
	return nil
}

// Term 减少引用计数，归零时执行平台清理
//
// Term 调用次数超过 Init 属于编程错误，会 panic。
func (r *Runtime) Term() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs == 0 {
		misuse("Runtime.Term", ErrUnbalancedTerm)
	}
	r.refs--
	metrics.RuntimeRefs.Dec()
	if r.refs > 0 {
		return
	}

	if n := r.live.Load(); n > 0 {
		r.logger().Warn("transport runtime terminated with live objects",
			zap.Int64("live", n),
		)
	}
	if err := platformShutdown(r.platform); err != nil {
		r.logger().Warn("transport runtime shutdown failed", zap.Error(err))
	}
	r.platform = platformState{}
	r.logger().Debug("transport runtime stopped")
}

// Refs 返回当前引用计数
func (r *Runtime) Refs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs
}

// Active 返回运行时是否已初始化
func (r *Runtime) Active() bool {
	return r.Refs() > 0
}

// Live 返回存活的 Channel/Switch 数量
func (r *Runtime) Live() int64 {
	return r.live.Load()
}

// Trace 返回生效的追踪配置
func (r *Runtime) Trace() TraceConfig {
	return r.trace
}

func (r *Runtime) logger() *zap.Logger {
	if r.log != nil {
		return r.log
	}
	return logger.L()
}

var defaultRuntime = NewRuntime()

// Default 返回进程级默认运行时
func Default() *Runtime {
	return defaultRuntime
}

// Init 初始化默认运行时
func Init() error {
	return defaultRuntime.Init()
}

// Term 释放默认运行时的一次引用
func Term() {
	defaultRuntime.Term()
}
