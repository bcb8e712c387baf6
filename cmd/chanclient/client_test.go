package main

import (
	"strings"
	"testing"
	"time"

	"github.com/qiminjie89/chanswitch/internal/server"
	"github.com/qiminjie89/chanswitch/pkg/config"
	"go.uber.org/zap"
)

func startServer(t *testing.T, backend string) *server.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.Backend = backend
	cfg.Auth.Required = true
	cfg.Auth.AllowDevTokens = true

	srv, err := server.New(cfg, server.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func TestClientSession(t *testing.T) {
	for _, tc := range []struct{ server, client string }{
		{config.BackendNetconn, "tcp"},
		{config.BackendWebSocket, "ws"},
	} {
		t.Run(tc.client, func(t *testing.T) {
			srv := startServer(t, tc.server)

			c, err := dial(tc.client, srv.Addr().String(), 5*time.Second)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer c.Close()

			ar, err := c.auth("dev_x", "bob")
			if err != nil || ar.UserID != "bob" {
				t.Fatalf("auth = %+v, %v", ar, err)
			}
			if err := c.echo(make([]byte, 100000)); err != nil {
				t.Fatalf("echo: %v", err)
			}
			info, err := c.info()
			if err != nil || info.UserID != "bob" || info.Backend != tc.server {
				t.Fatalf("info = %+v, %v", info, err)
			}
			if _, err := c.heartbeat(); err != nil {
				t.Fatalf("heartbeat: %v", err)
			}
		})
	}
}

func TestClientAuthRequired(t *testing.T) {
	srv := startServer(t, config.BackendNetconn)

	c, err := dial("tcp", srv.Addr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	err = c.echo([]byte("x"))
	if err == nil || !strings.Contains(err.Error(), "auth_required") {
		t.Fatalf("echo without auth = %v", err)
	}
}

func TestDialUnknownBackend(t *testing.T) {
	if _, err := dial("smoke", "127.0.0.1:1", time.Second); err == nil {
		t.Fatal("dial accepted an unknown backend")
	}
}

func TestFormatEvent(t *testing.T) {
	ev := &server.Event{
		Type:      server.EventClosed,
		ChannelID: "c1",
		Backend:   "posix",
		Peer:      "127.0.0.1:5000",
		Reason:    "idle_timeout",
		BytesIn:   2048,
		Timestamp: time.Now().UnixMilli(),
	}
	s := formatEvent(ev)
	for _, want := range []string{"closed", "channel=c1", "reason=idle_timeout", "in=2"} {
		if !strings.Contains(s, want) {
			t.Errorf("%q missing %q", s, want)
		}
	}
}
