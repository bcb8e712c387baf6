package transport

import (
	"os"

	"github.com/qiminjie89/chanswitch/pkg/logger"
	"go.uber.org/zap"
)

// 追踪开关环境变量，设置为任意值即开启
const (
	EnvTraceChannel = "CHANSWITCH_TRACE_CHANNEL"
	EnvTraceSwitch  = "CHANSWITCH_TRACE_SWITCH"
)

// TraceConfig 追踪配置
type TraceConfig struct {
	Channel bool // 记录每次 read/write/wait/interrupt
	Switch  bool // 记录每次 listen/accept/interrupt
}

// TraceFromEnv 从环境变量读取追踪配置
func TraceFromEnv() TraceConfig {
	_, ch := os.LookupEnv(EnvTraceChannel)
	_, sw := os.LookupEnv(EnvTraceSwitch)
	return TraceConfig{Channel: ch, Switch: sw}
}

// Merge 合并两份配置，任一开启即开启
func (t TraceConfig) Merge(o TraceConfig) TraceConfig {
	return TraceConfig{
		Channel: t.Channel || o.Channel,
		Switch:  t.Switch || o.Switch,
	}
}

func tracer(enabled bool, name string) *zap.Logger {
	if !enabled {
		return zap.NewNop()
	}
	return logger.NewTracer(name)
}
