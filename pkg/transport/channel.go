package transport

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qiminjie89/chanswitch/pkg/metrics"
	"go.uber.org/zap"
)

// Channel 一条已建立的双向字节流连接
//
// Channel 由创建者（或从 Accept 拿到它的组件）独占，必须且只能 Destroy 一次。
// 除“一个协程阻塞在 Wait、另一个协程调用 Interrupt”外，同一 Channel 上的操作
// 不保证并发安全。
type Channel struct {
	rt    *Runtime
	impl  ChannelImpl
	info  *ChannelInfo
	trace *zap.Logger

	destroyed atomic.Bool
	bytesIn   atomic.Uint64
	bytesOut  atomic.Uint64
}

// NewChannel 用后端实现构造 Channel
//
// 用于包装外部提供的已连接套接字；Switch.Accept 内部也经由此处创建。
func NewChannel(rt *Runtime, impl ChannelImpl, info *ChannelInfo) (*Channel, error) {
	if !rt.Active() {
		return nil, ErrRuntimeInactive
	}

	info = info.Clone()
	if info == nil {
		info = &ChannelInfo{}
	}
	if info.ID == "" {
		info.ID = uuid.New().String()
	}
	if info.Backend == "" {
		info.Backend = impl.Backend()
	}
	if info.PeerAddr == nil {
		if addr, err := impl.PeerAddr(); err == nil {
			info.PeerAddr = addr
		}
	}

	c := &Channel{
		rt:   rt,
		impl: impl,
		info: info,
	}
	c.trace = rt.chTrace.With(
		zap.String("channel_id", info.ID),
		zap.String("backend", info.Backend),
	)

	rt.live.Add(1)
	metrics.ChannelsOpen.WithLabelValues(info.Backend).Inc()
	c.trace.Debug("created", zap.String("peer", info.Peer()))

	return c, nil
}

// ID 返回通道 ID
func (c *Channel) ID() string {
	return c.info.ID
}

// Backend 返回后端名称
func (c *Channel) Backend() string {
	return c.info.Backend
}

// Info 返回通道元数据副本
func (c *Channel) Info() *ChannelInfo {
	return c.info.Clone()
}

// BytesIn 返回累计读取字节数
func (c *Channel) BytesIn() uint64 {
	return c.bytesIn.Load()
}

// BytesOut 返回累计写出字节数
func (c *Channel) BytesOut() uint64 {
	return c.bytesOut.Load()
}

// Write 发送 p 的全部字节
//
// 内部按后端单次上限切块并循环，直到全部发送或后端报告不可恢复错误。
// 返回 nil 即表示全部字节已交给传输层；返回错误即为 failed。
func (c *Channel) Write(p []byte) error {
	c.mustLive("Channel.Write")

	chunk := c.impl.MaxChunk()
	sent := 0
	for sent < len(p) {
		end := len(p)
		if chunk > 0 && end-sent > chunk {
			end = sent + chunk
		}

		n, err := c.impl.Write(p[sent:end])
		if n > 0 {
			sent += n
		}
		if err == nil && n == 0 {
			err = io.ErrNoProgress
		}
		if err != nil {
			c.addOut(sent)
			c.trace.Debug("write failed",
				zap.Int("sent", sent),
				zap.Int("len", len(p)),
				zap.Error(err),
			)
			return fmt.Errorf("channel write (%d of %d bytes sent): %w", sent, len(p), err)
		}
	}

	c.addOut(sent)
	c.trace.Debug("write", zap.Int("len", len(p)))
	return nil
}

// Read 执行至多一次后端接收
//
// 不会循环填满 p：返回当前可得的字节数；对端正常关闭时返回 (0, nil)；
// I/O 错误时返回错误（failed）。p 为空时返回 ErrEmptyBuffer，
// 避免与对端关闭混淆。
func (c *Channel) Read(p []byte) (int, error) {
	c.mustLive("Channel.Read")

	if len(p) == 0 {
		return 0, ErrEmptyBuffer
	}

	n, err := c.impl.Read(p)
	if n > 0 {
		c.bytesIn.Add(uint64(n))
		metrics.ChannelBytes.WithLabelValues(c.info.Backend, "in").Add(float64(n))
	}
	if err != nil {
		c.trace.Debug("read failed", zap.Int("n", n), zap.Error(err))
		return n, fmt.Errorf("channel read: %w", err)
	}

	c.trace.Debug("read", zap.Int("cap", len(p)), zap.Int("n", n))
	return n, nil
}

// Wait 阻塞直到通道可读和/或可写、超时或被 Interrupt
//
// timeout 为 WaitForever 时不设超时。两个就绪标志都为 false 且无错误
// 表示超时或被中断。
func (c *Channel) Wait(forRead, forWrite bool, timeout time.Duration) (readable, writable bool, err error) {
	c.mustLive("Channel.Wait")

	c.trace.Debug("wait",
		zap.Bool("read", forRead),
		zap.Bool("write", forWrite),
		zap.Duration("timeout", timeout),
	)

	res, err := c.impl.Wait(forRead, forWrite, timeout)
	if err != nil {
		metrics.ChannelWaits.WithLabelValues(c.info.Backend, "failed").Inc()
		c.trace.Debug("wait failed", zap.Error(err))
		return false, false, fmt.Errorf("channel wait: %w", err)
	}

	readable = forRead && res.Readable
	writable = forWrite && res.Writable

	outcome := "ready"
	switch {
	case res.Interrupted && !readable && !writable:
		outcome = "interrupted"
	case !readable && !writable:
		outcome = "timeout"
	}
	metrics.ChannelWaits.WithLabelValues(c.info.Backend, outcome).Inc()
	c.trace.Debug("wait done",
		zap.String("outcome", outcome),
		zap.Bool("readable", readable),
		zap.Bool("writable", writable),
	)

	return readable, writable, nil
}

// Interrupt 使阻塞在 Wait 上的调用尽快返回
//
// 可从任意协程调用；当前无人等待时作用于下一次 Wait。只保证等待不会
// 永久挂起，不保证返回时对方已经醒来。
func (c *Channel) Interrupt() {
	c.mustLive("Channel.Interrupt")

	metrics.Interrupts.WithLabelValues("channel").Inc()
	c.trace.Debug("interrupt")
	c.impl.Interrupt()
}

// FormatPeerInfo 返回对端描述，用于日志
func (c *Channel) FormatPeerInfo() string {
	c.mustLive("Channel.FormatPeerInfo")

	addr, err := c.impl.PeerAddr()
	if err != nil {
		return fmt.Sprintf("[unknown peer: %v]", err)
	}
	if addr == nil {
		return "[unknown peer]"
	}
	return addr.String()
}

// Destroy 关闭后端并使 Channel 失效
//
// 重复 Destroy 属于编程错误，会 panic。
func (c *Channel) Destroy() {
	if !c.destroyed.CompareAndSwap(false, true) {
		misuse("Channel.Destroy", ErrDestroyed)
	}

	if err := c.impl.Close(); err != nil {
		c.rt.logger().Debug("channel backend close failed",
			zap.String("channel_id", c.info.ID),
			zap.Error(err),
		)
	}

	c.rt.live.Add(-1)
	metrics.ChannelsOpen.WithLabelValues(c.info.Backend).Dec()
	c.trace.Debug("destroyed",
		zap.Uint64("bytes_in", c.bytesIn.Load()),
		zap.Uint64("bytes_out", c.bytesOut.Load()),
	)
}

// Destroyed 返回是否已销毁
func (c *Channel) Destroyed() bool {
	return c.destroyed.Load()
}

// Stream 返回面向流的 io.ReadWriter 适配
//
// 对端关闭时 Read 返回 io.EOF，便于与 io.ReadFull 等配合。
func (c *Channel) Stream() io.ReadWriter {
	return channelStream{c}
}

func (c *Channel) mustLive(op string) {
	if c.destroyed.Load() {
		misuse(op, ErrDestroyed)
	}
}

func (c *Channel) addOut(n int) {
	if n <= 0 {
		return
	}
	c.bytesOut.Add(uint64(n))
	metrics.ChannelBytes.WithLabelValues(c.info.Backend, "out").Add(float64(n))
}

type channelStream struct {
	c *Channel
}

func (s channelStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := s.c.Read(p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s channelStream) Write(p []byte) (int, error) {
	if err := s.c.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
