package server

import (
	"fmt"

	"github.com/qiminjie89/chanswitch/pkg/config"
	"github.com/qiminjie89/chanswitch/pkg/transport"
	"github.com/qiminjie89/chanswitch/pkg/transport/netconn"
	"github.com/qiminjie89/chanswitch/pkg/transport/tlsconn"
	"github.com/qiminjie89/chanswitch/pkg/transport/wsconn"
	"go.uber.org/zap"
)

// newSwitch 按 server.backend 创建交换器
func newSwitch(rt *transport.Runtime, cfg *config.Config, log *zap.Logger) (*transport.Switch, error) {
	addr := cfg.Server.Addr

	switch cfg.Server.Backend {
	case config.BackendPosix:
		return newPosixSwitch(rt, addr)

	case config.BackendNetconn, "":
		return netconn.NewSwitch(rt, addr)

	case config.BackendTLS:
		tc, err := tlsconn.LoadConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		return tlsconn.NewSwitch(rt, addr, tlsconn.Config{
			TLS:              tc,
			HandshakeTimeout: cfg.TLS.HandshakeTimeout,
			Logger:           log,
		})

	case config.BackendWebSocket:
		return wsconn.NewSwitch(rt, addr, wsconn.Config{
			Path:             cfg.WebSocket.Path,
			ReadBufferSize:   cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:  cfg.WebSocket.WriteBufferSize,
			HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
			MaxMessage:       cfg.WebSocket.MaxMessage,
			Logger:           log,
		})

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Server.Backend)
	}
}
