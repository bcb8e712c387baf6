package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jpillora/sizestr"
	"github.com/qiminjie89/chanswitch/internal/server"
	"github.com/qiminjie89/chanswitch/pkg/kafka"
)

// tailEvents 打印 chanswitchd 发布到 Kafka 的通道生命周期事件
func tailEvents(sigCh <-chan os.Signal) {
	consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
		Brokers: strings.Split(*brokers, ","),
		Topic:   *topic,
		Group:   *group,
	})
	if err != nil {
		log.Fatalf("Failed to create consumer: %v", err)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigCh
		cancel()
	}()

	log.Printf("Tailing events from %s (topic %s)...", *brokers, *topic)
	err = consumer.Run(ctx, func(msg *kafka.Message) error {
		var ev server.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return err
		}
		log.Print(formatEvent(&ev))
		return nil
	})
	if err != nil {
		log.Fatalf("Consumer stopped: %v", err)
	}
}

func formatEvent(ev *server.Event) string {
	var b strings.Builder
	b.WriteString(time.UnixMilli(ev.Timestamp).Format("15:04:05.000"))
	b.WriteString(" ")
	b.WriteString(ev.Type)
	b.WriteString(" channel=" + ev.ChannelID)
	b.WriteString(" backend=" + ev.Backend)
	b.WriteString(" peer=" + ev.Peer)
	if ev.UserID != "" {
		b.WriteString(" user=" + ev.UserID)
	}
	if ev.Type == server.EventClosed {
		b.WriteString(" reason=" + ev.Reason)
		b.WriteString(" in=" + sizestr.ToString(int64(ev.BytesIn)))
		b.WriteString(" out=" + sizestr.ToString(int64(ev.BytesOut)))
	}
	return b.String()
}
