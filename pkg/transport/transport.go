// Package transport 提供通道（Channel）与通道交换器（Switch）抽象
//
// Channel 表示一条已建立的双向字节流连接，Switch 表示一个监听端点，
// 通过 Accept 为每个入站连接产出新的 Channel。具体的字节搬运、
// 就绪检测与中断机制由可替换的后端（posix / netconn / tlsconn / wsconn）实现。
//
// 典型调用顺序：
//
//	rt := transport.NewRuntime()
//	rt.Init()
//	sw, _ := posix.NewSwitch(rt, ":8080")
//	sw.Listen(16)
//	for {
//		ch, info, err := sw.Accept()
//		...
//		ch.Destroy()
//	}
//	sw.Destroy()
//	rt.Term()
package transport

import (
	"net"
	"time"
)

// WaitForever 表示 Wait 不设超时
const WaitForever time.Duration = -1

// DefaultBacklog Listen 未指定队列深度时使用的默认值
const DefaultBacklog = 16

// ChannelImpl 通道后端实现
type ChannelImpl interface {
	// Backend 返回后端名称
	Backend() string
	// Read 执行一次后端接收，对端正常关闭时返回 (0, nil)
	Read(p []byte) (int, error)
	// Write 执行一次后端发送，可能只发送部分数据
	Write(p []byte) (int, error)
	// Wait 等待可读/可写；超时或被中断时返回的结果中两个就绪标志都为 false
	Wait(forRead, forWrite bool, timeout time.Duration) (WaitResult, error)
	// Interrupt 唤醒阻塞在 Wait 上的调用；无人等待时作用于下一次 Wait
	Interrupt()
	// PeerAddr 返回对端地址
	PeerAddr() (net.Addr, error)
	// MaxChunk 返回单次后端发送的最大字节数，<= 0 表示不限制
	MaxChunk() int
	// Close 释放后端资源（调用方提供且未移交所有权的描述符不关闭）
	Close() error
}

// SwitchImpl 交换器后端实现
type SwitchImpl interface {
	// Backend 返回后端名称
	Backend() string
	// Listen 开始监听
	Listen(backlog int) error
	// Accept 阻塞直到有新连接；被中断时返回 (nil, nil, nil)
	Accept() (ChannelImpl, *ChannelInfo, error)
	// Interrupt 唤醒阻塞在 Accept 上的调用
	Interrupt()
	// Addr 返回本地监听地址
	Addr() net.Addr
	// Close 释放监听资源
	Close() error
}

// WaitResult 后端等待结果
type WaitResult struct {
	Readable    bool
	Writable    bool
	Interrupted bool
}

// ChannelInfo Accept 时产出的连接元数据，所有权归调用方
type ChannelInfo struct {
	ID        string
	Backend   string
	PeerAddr  net.Addr
	LocalAddr net.Addr
	Attrs     map[string]string
}

// Clone 返回副本
func (i *ChannelInfo) Clone() *ChannelInfo {
	if i == nil {
		return nil
	}
	c := *i
	if i.Attrs != nil {
		c.Attrs = make(map[string]string, len(i.Attrs))
		for k, v := range i.Attrs {
			c.Attrs[k] = v
		}
	}
	return &c
}

// Peer 返回对端地址字符串
func (i *ChannelInfo) Peer() string {
	if i == nil || i.PeerAddr == nil {
		return ""
	}
	return i.PeerAddr.String()
}
