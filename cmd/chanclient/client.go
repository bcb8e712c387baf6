package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/qiminjie89/chanswitch/internal/protocol"
	"github.com/qiminjie89/chanswitch/pkg/transport/wsconn"
)

// client 帧协议客户端，同一时刻只有一个请求在途
type client struct {
	conn io.ReadWriteCloser
	seq  atomic.Uint64
}

// dial 按 backend 建立连接：tcp 对应 posix/netconn 服务端，tls、ws 对应各自后端
func dial(backend, addr string, timeout time.Duration) (*client, error) {
	var conn io.ReadWriteCloser
	var err error

	switch backend {
	case "tcp":
		conn, err = net.DialTimeout("tcp", addr, timeout)

	case "tls":
		var cfg *tls.Config
		cfg, err = tlsConfig(addr)
		if err != nil {
			return nil, err
		}
		conn, err = tls.DialWithDialer(&net.Dialer{Timeout: timeout}, "tcp", addr, cfg)

	case "ws":
		url := addr
		if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			url = "ws://" + addr + wsconn.DefaultPath
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		conn, err = wsconn.Dial(ctx, url, nil)

	default:
		return nil, fmt.Errorf("unknown backend %q (want tcp, tls or ws)", backend)
	}
	if err != nil {
		return nil, err
	}
	return &client{conn: conn}, nil
}

func tlsConfig(addr string) (*tls.Config, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: *insecure,
	}
	if *caFile != "" {
		pem, err := os.ReadFile(*caFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%s: no certificates found", *caFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// call 发送请求并读取响应；服务端返回 Error 帧时作为错误返回
func (c *client) call(msgType uint32, body interface{}) (*protocol.Frame, error) {
	f, err := protocol.NewFrame(msgType, c.seq.Add(1), body)
	if err != nil {
		return nil, err
	}
	return c.roundTrip(f)
}

func (c *client) roundTrip(f *protocol.Frame) (*protocol.Frame, error) {
	if err := protocol.WriteFrame(c.conn, f); err != nil {
		return nil, fmt.Errorf("send %s: %w", protocol.MsgTypeName(f.MsgType), err)
	}
	resp, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return nil, fmt.Errorf("receive %s response: %w", protocol.MsgTypeName(f.MsgType), err)
	}
	if resp.MsgType == protocol.MsgTypeError {
		var eb protocol.ErrorBody
		if err := protocol.DecodeBody(resp, &eb); err != nil {
			return nil, err
		}
		return nil, &eb
	}
	if resp.MsgType != protocol.ResponseType(f.MsgType) {
		return nil, fmt.Errorf("unexpected response 0x%04X to %s", resp.MsgType, protocol.MsgTypeName(f.MsgType))
	}
	if resp.Seq != f.Seq {
		return nil, fmt.Errorf("response seq %d, want %d", resp.Seq, f.Seq)
	}
	return resp, nil
}

func (c *client) auth(token, userID string) (*protocol.AuthResponse, error) {
	resp, err := c.call(protocol.MsgTypeAuth, &protocol.AuthRequest{Token: token, UserID: userID})
	if err != nil {
		return nil, err
	}
	var ar protocol.AuthResponse
	if err := protocol.DecodeBody(resp, &ar); err != nil {
		return nil, err
	}
	if !ar.Success {
		return &ar, fmt.Errorf("auth rejected: %d %s", ar.Code, ar.Message)
	}
	return &ar, nil
}

// echo 发送 payload 并校验原样返回
func (c *client) echo(payload []byte) error {
	resp, err := c.roundTrip(&protocol.Frame{
		MsgType: protocol.MsgTypeEcho,
		Seq:     c.seq.Add(1),
		Payload: payload,
	})
	if err != nil {
		return err
	}
	if !bytes.Equal(resp.Payload, payload) {
		return fmt.Errorf("echo mismatch: sent %d bytes, got %d", len(payload), len(resp.Payload))
	}
	return nil
}

func (c *client) info() (*protocol.InfoResponse, error) {
	resp, err := c.call(protocol.MsgTypeInfo, nil)
	if err != nil {
		return nil, err
	}
	var info protocol.InfoResponse
	if err := protocol.DecodeBody(resp, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// heartbeat 返回往返时延
func (c *client) heartbeat() (time.Duration, error) {
	start := time.Now()
	if _, err := c.call(protocol.MsgTypeHeartbeat, &protocol.HeartbeatBody{Timestamp: start.UnixMilli()}); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (c *client) Close() error {
	return c.conn.Close()
}
