// Package metrics 提供 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 传输层指标
var (
	// 通道指标
	ChannelsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chanswitch_channels_open",
		Help: "Number of live channels",
	}, []string{"backend"})

	ChannelBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanswitch_channel_bytes_total",
		Help: "Bytes moved through channels",
	}, []string{"backend", "direction"}) // in, out

	ChannelWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanswitch_channel_wait_total",
		Help: "Channel wait outcomes",
	}, []string{"backend", "outcome"}) // ready, timeout, failed

	Interrupts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanswitch_interrupts_total",
		Help: "Interrupt requests issued",
	}, []string{"kind"}) // channel, switch

	// Switch 指标
	SwitchAccepts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanswitch_switch_accepts_total",
		Help: "Switch accept outcomes",
	}, []string{"backend", "result"}) // ok, interrupted, error

	SwitchesListening = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chanswitch_switches_listening",
		Help: "Number of switches in listening state",
	}, []string{"backend"})

	// Runtime 引用计数
	RuntimeRefs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chanswitch_runtime_refs",
		Help: "Outstanding runtime init references",
	})
)

// 服务层指标
var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chanswitch_sessions_active",
		Help: "Number of active sessions",
	})

	SessionCloseReason = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanswitch_session_close_total",
		Help: "Session close count by reason",
	}, []string{"reason"})

	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanswitch_frames_total",
		Help: "Frames received from clients",
	}, []string{"msg_type"})

	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chanswitch_session_duration_seconds",
		Help:    "Session lifetime distribution",
		Buckets: []float64{0.01, 0.1, 1, 10, 60, 300, 1800, 3600},
	})
)
