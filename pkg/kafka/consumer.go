package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/qiminjie89/chanswitch/pkg/logger"
)

// ConsumerConfig Kafka 消费者配置
type ConsumerConfig struct {
	Brokers []string // Kafka broker 地址
	Topic   string   // 订阅的 topic
	Group   string   // 消费组 ID，为空时直接读分区 0 的最新消息
}

// Consumer Kafka 消费者
type Consumer struct {
	cfg    *ConsumerConfig
	reader *kafka.Reader
}

// Message Kafka 消息
type Message struct {
	Key       []byte
	Value     []byte
	Partition int
	Offset    int64
}

// MessageHandler 消息处理函数
type MessageHandler func(msg *Message) error

// NewConsumer 创建 Kafka 消费者
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}

	rc := kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	}
	if cfg.Group != "" {
		rc.GroupID = cfg.Group
	} else {
		rc.StartOffset = kafka.LastOffset
	}

	return &Consumer{
		cfg:    cfg,
		reader: kafka.NewReader(rc),
	}, nil
}

// Run 消费循环，直到 ctx 取消
//
// 有消费组时处理完成后提交 offset；处理失败只记日志。
func (c *Consumer) Run(ctx context.Context, handler MessageHandler) error {
	logger.Info("kafka consumer started",
		zap.String("topic", c.cfg.Topic),
		zap.String("group", c.cfg.Group),
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := handler(&Message{
			Key:       msg.Key,
			Value:     msg.Value,
			Partition: msg.Partition,
			Offset:    msg.Offset,
		}); err != nil {
			logger.Error("kafka message handler failed",
				zap.Error(err),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
		}

		if c.cfg.Group == "" {
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Error("kafka commit failed", zap.Error(err))
		}
	}
}

// Close 关闭消费者
func (c *Consumer) Close() error {
	return c.reader.Close()
}
