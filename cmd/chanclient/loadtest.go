package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/sizestr"
)

// Stats 负载测试统计
type Stats struct {
	connected int64
	requests  int64
	bytes     int64
	errors    int64
}

var stats Stats

// loadTest 并发运行 n 个客户端，持续发送 Echo 直到 duration 结束
func loadTest(sigCh <-chan os.Signal) {
	log.Printf("Starting load test...")
	log.Printf("  Server: %s (%s)", *serverAddr, *backend)
	log.Printf("  Clients: %d", *numClients)
	log.Printf("  Payload: %s", sizestr.ToString(int64(*size)))
	log.Printf("  Duration: %s", *duration)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()
	go func() {
		select {
		case <-sigCh:
			log.Printf("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	go statsLoop(ctx)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *numClients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := runClient(ctx, fmt.Sprintf("load_user_%04d", id)); err != nil {
				atomic.AddInt64(&stats.errors, 1)
				log.Printf("client %d: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	printFinalStats(time.Since(start))
}

func runClient(ctx context.Context, user string) error {
	c, err := dial(*backend, *serverAddr, *timeout)
	if err != nil {
		return err
	}
	defer c.Close()

	if *token != "" {
		if _, err := c.auth(*token, user); err != nil {
			return err
		}
	}

	atomic.AddInt64(&stats.connected, 1)
	defer atomic.AddInt64(&stats.connected, -1)

	payload := make([]byte, *size)
	for ctx.Err() == nil {
		if err := c.echo(payload); err != nil {
			return err
		}
		atomic.AddInt64(&stats.requests, 1)
		atomic.AddInt64(&stats.bytes, int64(2*len(payload)))
	}
	return nil
}

func statsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("Stats: connected=%d requests=%d bytes=%s errors=%d",
				atomic.LoadInt64(&stats.connected),
				atomic.LoadInt64(&stats.requests),
				sizestr.ToString(atomic.LoadInt64(&stats.bytes)),
				atomic.LoadInt64(&stats.errors),
			)
		}
	}
}

func printFinalStats(elapsed time.Duration) {
	requests := atomic.LoadInt64(&stats.requests)
	bytes := atomic.LoadInt64(&stats.bytes)
	secs := elapsed.Seconds()

	log.Printf("=== Final Stats ===")
	log.Printf("  Elapsed: %s", elapsed.Round(time.Millisecond))
	log.Printf("  Requests: %d (%.0f/s)", requests, float64(requests)/secs)
	log.Printf("  Throughput: %s/s", sizestr.ToString(int64(float64(bytes)/secs)))
	log.Printf("  Errors: %d", atomic.LoadInt64(&stats.errors))
}
