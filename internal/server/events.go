package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/qiminjie89/chanswitch/pkg/config"
	"github.com/qiminjie89/chanswitch/pkg/kafka"
)

// 事件类型
const (
	EventOpened = "opened"
	EventClosed = "closed"
)

// Event 通道生命周期事件
type Event struct {
	Type      string `json:"type"`
	ServerID  string `json:"server_id"`
	ChannelID string `json:"channel_id"`
	Backend   string `json:"backend"`
	Peer      string `json:"peer"`
	UserID    string `json:"user_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	BytesIn   uint64 `json:"bytes_in"`
	BytesOut  uint64 `json:"bytes_out"`
	Timestamp int64  `json:"ts"` // 毫秒
}

// EventSink 生命周期事件的发布目标
type EventSink interface {
	Publish(ev *Event)
	Close() error
}

// NopSink 丢弃所有事件
type NopSink struct{}

func (NopSink) Publish(*Event) {}

func (NopSink) Close() error { return nil }

// KafkaSink 以 JSON 发布到 Kafka，key 为 channel_id
type KafkaSink struct {
	producer *kafka.Producer
}

// NewKafkaSink 创建 Kafka 事件发布器（异步发送）
func NewKafkaSink(cfg *config.KafkaConfig) (*KafkaSink, error) {
	p, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Async:        true,
	})
	if err != nil {
		return nil, err
	}
	return &KafkaSink{producer: p}, nil
}

// Publish 异步发送，失败由生产者记录
func (k *KafkaSink) Publish(ev *Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = k.producer.Send(context.Background(), []byte(ev.ChannelID), data)
}

// Healthy 最近一次发送是否成功
func (k *KafkaSink) Healthy() bool {
	return k.producer.Healthy()
}

// Close 刷新并关闭
func (k *KafkaSink) Close() error {
	return k.producer.Close()
}

func newEvent(typ string, sess *Session) *Event {
	return &Event{
		Type:      typ,
		ServerID:  sess.srv.cfg.Server.ID,
		ChannelID: sess.ch.ID(),
		Backend:   sess.ch.Backend(),
		Peer:      sess.info.Peer(),
		UserID:    sess.UserID(),
		BytesIn:   sess.ch.BytesIn(),
		BytesOut:  sess.ch.BytesOut(),
		Timestamp: time.Now().UnixMilli(),
	}
}
