package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(&ProducerConfig{Topic: "t"}); !errors.Is(err, ErrNoBrokers) {
		t.Fatalf("NewProducer = %v", err)
	}
	if _, err := NewConsumer(&ConsumerConfig{Topic: "t"}); !errors.Is(err, ErrNoBrokers) {
		t.Fatalf("NewConsumer = %v", err)
	}
}

func TestProducerCompletion(t *testing.T) {
	p, err := NewProducer(&ProducerConfig{
		Brokers:      []string{"127.0.0.1:9"},
		Topic:        "events",
		BatchTimeout: time.Millisecond,
		Async:        true,
	})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	if !p.Healthy() {
		t.Fatal("new producer not healthy")
	}

	p.complete(make([]kafka.Message, 2), nil)
	p.complete(make([]kafka.Message, 3), errors.New("broker down"))
	sent, failed := p.Stats()
	if sent != 2 || failed != 3 || p.Healthy() {
		t.Fatalf("stats = %d/%d healthy=%v", sent, failed, p.Healthy())
	}

	// 未写入任何消息，Close 不需要连接 broker
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
