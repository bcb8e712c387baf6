// Package tlsconn 在 netconn 之上叠加 TLS 的后端
//
// 服务端握手在 Accept 内完成，单个连接握手失败只记录日志并继续等待下一个连接。
// TLS 明文可能已缓冲在会话中而套接字本身不可读，因此可读性通过带截止时间的
// 记录读取判断，读到的明文暂存在通道中供随后的 Read 返回。
package tlsconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/qiminjie89/chanswitch/pkg/logger"
	"github.com/qiminjie89/chanswitch/pkg/transport"
	"github.com/qiminjie89/chanswitch/pkg/transport/netconn"
	"go.uber.org/zap"
)

// Backend 后端名称
const Backend = "tls"

// DefaultHandshakeTimeout 默认握手超时
const DefaultHandshakeTimeout = 10 * time.Second

var ErrNoCertificate = errors.New("tls config has no certificate")

// Config TLS 交换器配置
type Config struct {
	TLS              *tls.Config
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
}

// LoadConfig 从 PEM 文件加载服务端证书
func LoadConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

type switchImpl struct {
	inner   *netconn.SwitchImpl
	tls     *tls.Config
	timeout time.Duration
	log     *zap.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	interrupted bool
	stash       *tls.Conn // 中断时恰好完成握手的连接，留给下一次 Accept
}

// NewSwitch 创建在 addr 上监听的 TLS 交换器
func NewSwitch(rt *transport.Runtime, addr string, cfg Config) (*transport.Switch, error) {
	if cfg.TLS == nil || (len(cfg.TLS.Certificates) == 0 && cfg.TLS.GetCertificate == nil && cfg.TLS.GetConfigForClient == nil) {
		return nil, ErrNoCertificate
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.L()
	}

	impl := &switchImpl{
		inner:   netconn.NewSwitchImpl("tcp", addr, Backend),
		tls:     cfg.TLS,
		timeout: cfg.HandshakeTimeout,
		log:     cfg.Logger.With(zap.String("backend", Backend)),
	}
	return transport.NewSwitch(rt, impl)
}

// ChannelFromConn 将已完成（或将在首次读写时完成）握手的 TLS 连接包装为 Channel
func ChannelFromConn(rt *transport.Runtime, conn *tls.Conn, owned bool) (*transport.Channel, error) {
	return transport.NewChannel(rt, netconn.NewChannelImpl(conn, owned, Backend), &transport.ChannelInfo{
		Backend:   Backend,
		PeerAddr:  conn.RemoteAddr(),
		LocalAddr: conn.LocalAddr(),
		Attrs:     stateAttrs(conn.ConnectionState()),
	})
}

func (s *switchImpl) Backend() string {
	return Backend
}

func (s *switchImpl) Listen(backlog int) error {
	return s.inner.Listen(backlog)
}

func (s *switchImpl) Accept() (transport.ChannelImpl, *transport.ChannelInfo, error) {
	s.mu.Lock()
	if tc := s.stash; tc != nil {
		s.stash = nil
		s.mu.Unlock()
		return channelImpl(tc)
	}
	s.mu.Unlock()

	for {
		conn, err := s.inner.AcceptConn()
		if err != nil || conn == nil {
			return nil, nil, err
		}

		tc, interrupted, err := s.handshake(conn)
		switch {
		case err == nil && interrupted:
			s.mu.Lock()
			s.stash = tc
			s.mu.Unlock()
			return nil, nil, nil
		case interrupted:
			conn.Close()
			return nil, nil, nil
		case err != nil:
			s.log.Warn("tls handshake failed",
				zap.Stringer("peer", conn.RemoteAddr()),
				zap.Error(err),
			)
			conn.Close()
			continue
		}
		return channelImpl(tc)
	}
}

func channelImpl(tc *tls.Conn) (transport.ChannelImpl, *transport.ChannelInfo, error) {
	info := &transport.ChannelInfo{
		Backend:   Backend,
		PeerAddr:  tc.RemoteAddr(),
		LocalAddr: tc.LocalAddr(),
		Attrs:     stateAttrs(tc.ConnectionState()),
	}
	return netconn.NewChannelImpl(tc, true, Backend), info, nil
}

// handshake 执行服务端握手，期间的 Interrupt 会取消握手
func (s *switchImpl) handshake(conn net.Conn) (*tls.Conn, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	tc := tls.Server(conn, s.tls)
	err := tc.HandshakeContext(ctx)

	s.mu.Lock()
	interrupted := s.interrupted
	s.interrupted = false
	s.cancel = nil
	s.mu.Unlock()

	return tc, interrupted, err
}

func (s *switchImpl) Interrupt() {
	s.mu.Lock()
	if s.cancel != nil {
		s.interrupted = true
		s.cancel()
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.inner.Interrupt()
}

func (s *switchImpl) Addr() net.Addr {
	return s.inner.Addr()
}

func (s *switchImpl) Close() error {
	s.mu.Lock()
	if s.stash != nil {
		s.stash.Close()
		s.stash = nil
	}
	s.mu.Unlock()
	return s.inner.Close()
}

func stateAttrs(st tls.ConnectionState) map[string]string {
	attrs := map[string]string{
		"tls_version": tls.VersionName(st.Version),
	}
	if st.CipherSuite != 0 {
		attrs["cipher_suite"] = tls.CipherSuiteName(st.CipherSuite)
	}
	if st.ServerName != "" {
		attrs["server_name"] = st.ServerName
	}
	if st.NegotiatedProtocol != "" {
		attrs["alpn"] = st.NegotiatedProtocol
	}
	return attrs
}
