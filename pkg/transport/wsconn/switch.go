// Package wsconn WebSocket 后端
//
// Switch 是一个 HTTP 服务，在指定路径上把请求升级为 WebSocket 并放入接受队列；
// Channel 把二进制/文本消息拼接为字节流。
package wsconn

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/qiminjie89/chanswitch/pkg/logger"
	"github.com/qiminjie89/chanswitch/pkg/transport"
	"go.uber.org/zap"
)

// Backend 后端名称
const Backend = "websocket"

const (
	DefaultPath             = "/ws"
	DefaultMaxMessage       = 64 * 1024
	DefaultHandshakeTimeout = 10 * time.Second
)

var ErrSwitchClosed = errors.New("websocket switch closed")

// Config WebSocket 交换器配置
type Config struct {
	Path             string
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	MaxMessage       int   // 单条出站消息的最大字节数
	ReadLimit        int64 // 单条入站消息上限，0 表示不限制
	CheckOrigin      func(r *http.Request) bool
	Logger           *zap.Logger
}

func (c *Config) setDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 4096
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.MaxMessage <= 0 {
		c.MaxMessage = DefaultMaxMessage
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(r *http.Request) bool {
			return true // 生产环境应检查 Origin
		}
	}
	if c.Logger == nil {
		c.Logger = logger.L()
	}
}

type upgraded struct {
	conn *websocket.Conn
	req  *http.Request
}

type switchImpl struct {
	addr     string
	cfg      Config
	upgrader websocket.Upgrader
	log      *zap.Logger

	ln     net.Listener
	server *http.Server

	connCh      chan upgraded
	interruptCh chan struct{}
	doneCh      chan struct{}
	closeOnce   sync.Once
}

// NewSwitch 创建在 addr 上提供 WebSocket 升级的交换器
func NewSwitch(rt *transport.Runtime, addr string, cfg Config) (*transport.Switch, error) {
	cfg.setDefaults()

	s := &switchImpl{
		addr: addr,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      cfg.CheckOrigin,
		},
		log:         cfg.Logger.With(zap.String("backend", Backend)),
		interruptCh: make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}
	return transport.NewSwitch(rt, s)
}

func (s *switchImpl) Backend() string {
	return Backend
}

// Listen 启动 HTTP 服务，backlog 作为已升级但未被 Accept 的连接队列长度
func (s *switchImpl) Listen(backlog int) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)

	s.ln = ln
	s.connCh = make(chan upgraded, backlog)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.HandshakeTimeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("websocket server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *switchImpl) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	select {
	case s.connCh <- upgraded{conn: conn, req: r}:
	case <-s.doneCh:
		conn.Close()
	}
}

func (s *switchImpl) Accept() (transport.ChannelImpl, *transport.ChannelInfo, error) {
	select {
	case u := <-s.connCh:
		return newChannelImpl(u.conn, s.cfg.MaxMessage, s.cfg.ReadLimit), requestInfo(u.conn, u.req), nil
	case <-s.interruptCh:
		return nil, nil, nil
	case <-s.doneCh:
		return nil, nil, ErrSwitchClosed
	}
}

func (s *switchImpl) Interrupt() {
	select {
	case s.interruptCh <- struct{}{}:
	default:
	}
}

func (s *switchImpl) Addr() net.Addr {
	if s.ln != nil {
		return s.ln.Addr()
	}
	if addr, err := net.ResolveTCPAddr("tcp", s.addr); err == nil {
		return addr
	}
	return nil
}

func (s *switchImpl) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.doneCh)
		if s.server != nil {
			err = s.server.Close()
		}
		// 已升级但未被取走的连接
		for {
			select {
			case u := <-s.connCh:
				u.conn.Close()
			default:
				return
			}
		}
	})
	return err
}

func requestInfo(conn *websocket.Conn, r *http.Request) *transport.ChannelInfo {
	attrs := map[string]string{
		"path": r.URL.Path,
	}
	if p := conn.Subprotocol(); p != "" {
		attrs["subprotocol"] = p
	}
	if o := r.Header.Get("Origin"); o != "" {
		attrs["origin"] = o
	}
	if ua := r.UserAgent(); ua != "" {
		attrs["user_agent"] = ua
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		attrs["forwarded_for"] = xff
	}
	return &transport.ChannelInfo{
		Backend:   Backend,
		PeerAddr:  conn.RemoteAddr(),
		LocalAddr: conn.LocalAddr(),
		Attrs:     attrs,
	}
}
