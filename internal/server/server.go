// Package server 在 transport.Switch 之上实现帧协议接入服务
//
// 每个被接受的 Channel 由一个 Session worker 独占处理；Stop 通过中断
// Switch 与各 Channel 的等待实现优雅退出。
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/qiminjie89/chanswitch/internal/protocol"
	"github.com/qiminjie89/chanswitch/pkg/auth"
	"github.com/qiminjie89/chanswitch/pkg/config"
	"github.com/qiminjie89/chanswitch/pkg/logger"
	"github.com/qiminjie89/chanswitch/pkg/metrics"
	"github.com/qiminjie89/chanswitch/pkg/transport"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// ServiceName gRPC 健康检查中的服务名
const ServiceName = "chanswitch"

var ErrNoAuthenticator = errors.New("no token validator configured")

// Option 服务选项
type Option func(*Server)

// WithRuntime 使用外部创建的传输运行时（服务仍会 Init/Term 一次）
func WithRuntime(rt *transport.Runtime) Option {
	return func(s *Server) {
		s.rt = rt
	}
}

// WithEventSink 指定生命周期事件发布目标
func WithEventSink(sink EventSink) Option {
	return func(s *Server) {
		s.sink = sink
	}
}

// WithLogger 指定服务日志
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// Server 通道接入服务
type Server struct {
	cfg       *config.Config
	rt        *transport.Runtime
	sw        *transport.Switch
	validator *auth.JWTValidator
	sink      EventSink
	log       *zap.Logger

	// 通道数上限，nil 表示不限制
	slots chan struct{}

	sessions map[string]*Session
	mu       sync.Mutex
	workers  sync.WaitGroup

	started    time.Time
	stopping   atomic.Bool
	stopCh     chan struct{}
	acceptDone chan struct{}

	health      *health.Server
	grpcServer  *grpc.Server
	grpcAddr    net.Addr
	httpServers []httpServer
}

// New 创建服务并初始化传输运行时与交换器
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
		health:   newHealthServer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.L()
	}
	if s.rt == nil {
		s.rt = transport.NewRuntime(
			transport.WithLogger(s.log),
			transport.WithTrace(transport.TraceConfig{
				Channel: cfg.Trace.Channel,
				Switch:  cfg.Trace.Switch,
			}),
		)
	}
	if cfg.Channel.MaxChannels > 0 {
		s.slots = make(chan struct{}, cfg.Channel.MaxChannels)
	}
	if cfg.Auth.Secret != "" || cfg.Auth.AllowDevTokens {
		vopts := []auth.Option{auth.WithLeeway(cfg.Auth.Leeway)}
		if cfg.Auth.Issuer != "" {
			vopts = append(vopts, auth.WithIssuer(cfg.Auth.Issuer))
		}
		if cfg.Auth.AllowDevTokens {
			vopts = append(vopts, auth.WithDevTokens())
		}
		s.validator = auth.NewJWTValidator(cfg.Auth.Secret, vopts...)
	}

	if err := s.rt.Init(); err != nil {
		return nil, err
	}
	sw, err := newSwitch(s.rt, cfg, s.log)
	if err != nil {
		s.rt.Term()
		return nil, err
	}
	s.sw = sw

	if s.sink == nil {
		s.sink = NopSink{}
		if len(cfg.Kafka.Brokers) > 0 {
			ks, err := NewKafkaSink(&cfg.Kafka)
			if err != nil {
				sw.Destroy()
				s.rt.Term()
				return nil, err
			}
			s.sink = ks
		}
	}
	return s, nil
}

// Start 开始监听并启动 accept 循环
func (s *Server) Start() error {
	s.log.Info("starting chanswitch server",
		zap.String("id", s.cfg.Server.ID),
		zap.String("addr", s.cfg.Server.Addr),
		zap.String("backend", s.sw.Backend()),
	)

	if err := s.sw.Listen(s.cfg.Server.Backlog); err != nil {
		return err
	}
	s.started = time.Now()

	if err := s.startHTTP(); err != nil {
		return err
	}
	if err := s.startGRPCHealth(); err != nil {
		return err
	}

	s.acceptDone = make(chan struct{})
	go s.acceptLoop()

	s.setServing(true)
	s.log.Info("chanswitch server started", zap.Stringer("addr", s.sw.Addr()))
	return nil
}

// acceptLoop 为每个新通道启动 Session；Accept 出错时指数退避重试
func (s *Server) acceptLoop() {
	defer close(s.acceptDone)

	b := &backoff.Backoff{Min: 10 * time.Millisecond, Max: time.Second}
	for {
		ch, info, err := s.sw.Accept()
		if err != nil {
			if s.stopping.Load() {
				return
			}
			d := b.Duration()
			s.log.Warn("accept failed, retrying",
				zap.Error(err),
				zap.Duration("backoff", d),
			)
			select {
			case <-s.stopCh:
				return
			case <-time.After(d):
			}
			continue
		}
		if ch == nil {
			if s.stopping.Load() {
				return
			}
			continue
		}
		b.Reset()

		if !s.acquire() {
			s.reject(ch, info)
			continue
		}
		s.startSession(ch, info)
	}
}

func (s *Server) acquire() bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Server) release() {
	if s.slots != nil {
		<-s.slots
	}
}

// reject 通道数已满：回复错误帧后立即销毁
func (s *Server) reject(ch *transport.Channel, info *transport.ChannelInfo) {
	f, err := protocol.NewFrame(protocol.MsgTypeError, 0, protocol.NewError(protocol.ErrCodeServiceOverloaded, ""))
	if err == nil {
		_ = ch.Write(protocol.EncodeFrame(f))
	}
	ch.Destroy()

	metrics.SessionCloseReason.WithLabelValues(ReasonOverloaded).Inc()
	s.log.Warn("channel rejected: too many channels",
		zap.String("peer", info.Peer()),
		zap.Int("max_channels", s.cfg.Channel.MaxChannels),
	)
}

func (s *Server) startSession(ch *transport.Channel, info *transport.ChannelInfo) {
	sess := newSession(s, ch, info)

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	metrics.SessionsActive.Inc()
	sess.log.Info("channel accepted")
	s.sink.Publish(newEvent(EventOpened, sess))

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		sess.run()
	}()
}

func (s *Server) removeSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()
	s.release()
}

// authenticate 校验 Auth 帧；未配置校验器时直接信任上报的 user_id
func (s *Server) authenticate(token, userID string) (string, error) {
	if s.validator == nil {
		if userID == "" {
			return "", ErrNoAuthenticator
		}
		return userID, nil
	}
	claims, err := s.validator.Authenticate(token, userID)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// CloseChannel 请求关闭指定通道，返回通道是否存在
func (s *Server) CloseChannel(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()

	if ok {
		sess.RequestClose(ReasonKicked)
	}
	return ok
}

// Sessions 返回当前会话列表
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	return list
}

// SessionCount 返回当前会话数
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Addr 返回交换器监听地址
func (s *Server) Addr() net.Addr {
	return s.sw.Addr()
}

// GRPCAddr 返回 gRPC 健康服务地址，未启用时为 nil
func (s *Server) GRPCAddr() net.Addr {
	return s.grpcAddr
}

// Listening 返回交换器是否处于监听状态
func (s *Server) Listening() bool {
	return !s.stopping.Load() && s.sw.State() == transport.SwitchListening
}

// SetLogLevel 配置热更新时调整日志级别
func (s *Server) SetLogLevel(level string) {
	logger.SetLevel(level)
	s.log.Info("log level changed", zap.String("level", level))
}

// Stop 优雅停止：中断 accept 与所有会话的等待，等待 worker 退出后释放资源
func (s *Server) Stop() {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}
	s.log.Info("stopping chanswitch server")
	close(s.stopCh)
	s.setServing(false)

	s.sw.Interrupt()
	if s.acceptDone != nil {
		<-s.acceptDone
	}

	for _, sess := range s.Sessions() {
		sess.RequestClose(ReasonShutdown)
	}
	s.workers.Wait()

	s.sw.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range s.httpServers {
		_ = srv.Shutdown(ctx)
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if err := s.sink.Close(); err != nil {
		s.log.Warn("event sink close failed", zap.Error(err))
	}

	s.rt.Term()
	s.log.Info("chanswitch server stopped")
}

type httpServer interface {
	Shutdown(ctx context.Context) error
}
