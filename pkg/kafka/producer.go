// Package kafka 提供 Kafka 客户端封装
package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/qiminjie89/chanswitch/pkg/logger"
)

var ErrNoBrokers = errors.New("kafka: no brokers configured")

// ProducerConfig Kafka 生产者配置
type ProducerConfig struct {
	Brokers      []string      // Kafka broker 地址
	Topic        string        // 目标 topic
	BatchSize    int           // 批量条数，0 使用 kafka-go 默认值
	BatchTimeout time.Duration // 批量等待时间
	Async        bool          // 异步发送，错误只通过日志和计数反馈
}

// Producer Kafka 生产者
type Producer struct {
	cfg    *ProducerConfig
	writer *kafka.Writer

	healthy atomic.Bool
	sent    atomic.Int64
	failed  atomic.Int64
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}

	p := &Producer{cfg: cfg}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // 按 key 哈希分区，同一通道的事件保持有序
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Async:        cfg.Async,
		Completion:   p.complete,
	}
	p.healthy.Store(true)
	return p, nil
}

// complete 异步模式下的发送结果回调
func (p *Producer) complete(messages []kafka.Message, err error) {
	if err != nil {
		p.healthy.Store(false)
		p.failed.Add(int64(len(messages)))
		logger.Warn("kafka async send failed",
			zap.Error(err),
			zap.String("topic", p.cfg.Topic),
			zap.Int("count", len(messages)),
		)
		return
	}
	p.healthy.Store(true)
	p.sent.Add(int64(len(messages)))
}

// Send 发送消息
func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	msg := kafka.Message{
		Key:   key,
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.healthy.Store(false)
		logger.Error("kafka send failed",
			zap.Error(err),
			zap.String("topic", p.cfg.Topic),
		)
		return err
	}
	return nil
}

// Healthy 最近一次发送是否成功
func (p *Producer) Healthy() bool {
	return p.healthy.Load()
}

// Stats 返回已确认发送和失败的消息数
func (p *Producer) Stats() (sent, failed int64) {
	return p.sent.Load(), p.failed.Load()
}

// Close 刷新缓冲并关闭生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}
