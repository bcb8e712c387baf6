// Package main 提供 chanswitchd 测试客户端
package main

import (
	"crypto/rand"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpillora/sizestr"
)

// 配置
var (
	serverAddr = flag.String("addr", "localhost:7000", "server address (host:port, or a ws:// URL)")
	backend    = flag.String("backend", "tcp", "transport: tcp, tls or ws")
	token      = flag.String("token", "dev_token", "auth token (dev_xxx for dev mode, empty to skip auth)")
	userID     = flag.String("user", "test_user_001", "user id reported with dev tokens")
	numClients = flag.Int("n", 1, "number of clients; > 1 runs a load test")
	size       = flag.Int("size", 1024, "echo payload size in bytes")
	duration   = flag.Duration("duration", 10*time.Second, "load test duration")
	timeout    = flag.Duration("timeout", 5*time.Second, "dial timeout")
	insecure   = flag.Bool("insecure", false, "skip TLS certificate verification")
	caFile     = flag.String("ca", "", "CA certificate for TLS verification")

	events  = flag.Bool("events", false, "tail lifecycle events from Kafka instead of connecting")
	brokers = flag.String("brokers", "localhost:9092", "Kafka brokers, comma separated (with -events)")
	topic   = flag.String("topic", "chanswitch-events", "Kafka topic (with -events)")
	group   = flag.String("group", "", "Kafka consumer group (with -events)")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	switch {
	case *events:
		tailEvents(sigCh)
	case *numClients > 1:
		loadTest(sigCh)
	default:
		if err := runOnce(); err != nil {
			log.Fatalf("Failed: %v", err)
		}
	}
}

// runOnce 依次发送 Auth/Echo/Info/Heartbeat 并打印响应
func runOnce() error {
	log.Printf("Connecting to %s (%s)...", *serverAddr, *backend)
	c, err := dial(*backend, *serverAddr, *timeout)
	if err != nil {
		return err
	}
	defer c.Close()

	if *token != "" {
		ar, err := c.auth(*token, *userID)
		if err != nil {
			return err
		}
		log.Printf("Authenticated: user=%s server=%s", ar.UserID, ar.ServerID)
	}

	payload := make([]byte, *size)
	rand.Read(payload)
	start := time.Now()
	if err := c.echo(payload); err != nil {
		return err
	}
	log.Printf("Echo: %s in %s", sizestr.ToString(int64(len(payload))), time.Since(start))

	info, err := c.info()
	if err != nil {
		return err
	}
	log.Printf("Info: channel=%s backend=%s peer=%s server=%s in=%s out=%s",
		info.ChannelID, info.Backend, info.Peer, info.ServerID,
		sizestr.ToString(int64(info.BytesIn)), sizestr.ToString(int64(info.BytesOut)))
	for k, v := range info.Attrs {
		log.Printf("  %s: %s", k, v)
	}

	rtt, err := c.heartbeat()
	if err != nil {
		return err
	}
	log.Printf("Heartbeat: rtt=%s", rtt)
	return nil
}
