// Package config 提供配置加载、校验与热更新
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "mem://chanswitch/config.schema.json"

// 支持的传输后端
const (
	BackendPosix     = "posix"
	BackendNetconn   = "netconn"
	BackendTLS       = "tls"
	BackendWebSocket = "websocket"
)

// Config chanswitchd 配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	TLS       TLSConfig       `yaml:"tls"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Channel   ChannelConfig   `yaml:"channel"`
	Auth      AuthConfig      `yaml:"auth"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Health    HealthConfig    `yaml:"health"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	Trace     TraceConfig     `yaml:"trace"`
}

// ServerConfig 服务器基础配置
type ServerConfig struct {
	ID      string `yaml:"id"`
	Addr    string `yaml:"addr"`
	Backend string `yaml:"backend"`
	Backlog int    `yaml:"backlog"`
}

// TLSConfig TLS 后端配置
type TLSConfig struct {
	CertFile         string        `yaml:"cert_file"`
	KeyFile          string        `yaml:"key_file"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// WebSocketConfig WebSocket 后端配置
type WebSocketConfig struct {
	Path             string        `yaml:"path"`
	ReadBufferSize   int           `yaml:"read_buffer_size"`
	WriteBufferSize  int           `yaml:"write_buffer_size"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MaxMessage       int           `yaml:"max_message"`
}

// ChannelConfig 通道会话配置
type ChannelConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	ReadBuffer  int           `yaml:"read_buffer"`
	MaxChannels int           `yaml:"max_channels"` // 0 表示不限制
}

// AuthConfig 鉴权配置
type AuthConfig struct {
	Secret         string        `yaml:"secret"`
	Issuer         string        `yaml:"issuer"`
	Required       bool          `yaml:"required"`
	AllowDevTokens bool          `yaml:"allow_dev_tokens"`
	Leeway         time.Duration `yaml:"leeway"`
}

// KafkaConfig Kafka 配置，brokers 为空时不发布事件
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// HealthConfig 健康检查配置，地址为空时不启动对应服务
type HealthConfig struct {
	Addr     string `yaml:"addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TraceConfig 传输层调试追踪开关，与环境变量取并集
type TraceConfig struct {
	Channel bool `yaml:"channel"`
	Switch  bool `yaml:"switch"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ID:      "chanswitch-1",
			Addr:    "0.0.0.0:7000",
			Backend: BackendNetconn,
			Backlog: 128,
		},
		TLS: TLSConfig{
			HandshakeTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Path:             "/ws",
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
			MaxMessage:       64 * 1024,
		},
		Channel: ChannelConfig{
			IdleTimeout: 90 * time.Second,
			ReadBuffer:  16 * 1024,
		},
		Kafka: KafkaConfig{
			Topic:        "chanswitch-events",
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load 加载配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse 解析 YAML 配置：先做 schema 校验，再覆盖默认值，最后检查字段间约束
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查 schema 表达不了的约束
func (c *Config) Validate() error {
	if c.Server.Backend == BackendTLS && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("tls backend requires tls.cert_file and tls.key_file")
	}
	if c.Auth.Required && c.Auth.Secret == "" && !c.Auth.AllowDevTokens {
		return errors.New("auth.required needs auth.secret or auth.allow_dev_tokens")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.brokers set without kafka.topic")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.enabled requires metrics.addr")
	}
	return nil
}

var (
	schemaOnce sync.Once
	compiled   *jsonschema.Schema
	compileErr error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			compileErr = err
			return
		}
		compiled, compileErr = compiler.Compile(schemaURL)
	})
	return compiled, compileErr
}

// validateSchema YAML 先转成 JSON 值再交给 schema 校验，保证数值类型与 JSON 一致
func validateSchema(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not representable as json: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}

	s, err := schema()
	if err != nil {
		return err
	}
	return s.Validate(v)
}
