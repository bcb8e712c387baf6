package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
server:
  id: cs-test
  addr: 127.0.0.1:7100
  backend: websocket
  backlog: 16
websocket:
  path: /chan
  max_message: 4096
channel:
  idle_timeout: 30s
  max_channels: 10
auth:
  secret: s3cret
  required: true
kafka:
  brokers: [127.0.0.1:9092]
  batch_timeout: 5ms
log:
  level: debug
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Server.ID != "cs-test" || cfg.Server.Backend != BackendWebSocket || cfg.Server.Backlog != 16 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.WebSocket.Path != "/chan" || cfg.WebSocket.MaxMessage != 4096 {
		t.Errorf("websocket = %+v", cfg.WebSocket)
	}
	if cfg.Channel.IdleTimeout != 30*time.Second || cfg.Channel.MaxChannels != 10 {
		t.Errorf("channel = %+v", cfg.Channel)
	}
	if cfg.Kafka.BatchTimeout != 5*time.Millisecond || len(cfg.Kafka.Brokers) != 1 {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}

	// 未出现的字段保留默认值
	def := Default()
	if cfg.WebSocket.ReadBufferSize != def.WebSocket.ReadBufferSize {
		t.Errorf("read_buffer_size = %d", cfg.WebSocket.ReadBufferSize)
	}
	if cfg.Kafka.Topic != def.Kafka.Topic || cfg.Channel.ReadBuffer != def.Channel.ReadBuffer {
		t.Errorf("defaults lost: %+v %+v", cfg.Kafka, cfg.Channel)
	}
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Backend != BackendNetconn || cfg.Log.Level != "info" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown backend", "server:\n  backend: udp\n", "backend"},
		{"unknown key", "server:\n  port: 1\n", "port"},
		{"numeric duration", "channel:\n  idle_timeout: 30\n", "idle_timeout"},
		{"bad addr", "server:\n  addr: localhost\n", "addr"},
		{"bad level", "log:\n  level: loud\n", "level"},
		{"negative backlog", "server:\n  backlog: -1\n", "backlog"},
		{"tls without cert", "server:\n  backend: tls\n", "cert_file"},
		{"auth without secret", "auth:\n  required: true\n", "auth.secret"},
		{"metrics without addr", "metrics:\n  enabled: true\n", "metrics.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chanswitch.yaml")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ID != "cs-test" {
		t.Fatalf("id = %q", cfg.Server.ID)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load of missing file succeeded")
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chanswitch.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	if err := Watch(ctx, path, func(c *Config) { got <- c }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// 非法内容不回调
	if err := os.WriteFile(path, []byte("log:\n  level: loud\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		t.Fatalf("callback with invalid config: %+v", c.Log)
	case <-time.After(300 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		if c.Log.Level != "debug" {
			t.Fatalf("level = %q", c.Log.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}

	// 同目录的其它文件不触发
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		t.Fatalf("callback for unrelated file: %+v", c.Log)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "chanswitchd.yaml"))
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if cfg.Metrics.Addr != cfg.Health.Addr {
		t.Errorf("example serves metrics and health on different addrs")
	}
}
