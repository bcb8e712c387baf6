package server

import (
	"errors"
	"sync"
	"time"

	"github.com/jpillora/sizestr"
	"github.com/qiminjie89/chanswitch/internal/protocol"
	"github.com/qiminjie89/chanswitch/pkg/auth"
	"github.com/qiminjie89/chanswitch/pkg/metrics"
	"github.com/qiminjie89/chanswitch/pkg/transport"
	"go.uber.org/zap"
)

// 会话关闭原因
const (
	ReasonPeerClosed    = "peer_closed"
	ReasonIdleTimeout   = "idle_timeout"
	ReasonShutdown      = "shutdown"
	ReasonKicked        = "kicked"
	ReasonAuthFailed    = "auth_failed"
	ReasonAuthRequired  = "auth_required"
	ReasonProtocolError = "protocol_error"
	ReasonReadError     = "read_error"
	ReasonWriteError    = "write_error"
	ReasonWaitError     = "wait_error"
	ReasonOverloaded    = "overloaded"
)

// errClose 处理函数请求关闭会话
type errClose struct {
	reason string
}

func (e *errClose) Error() string { return "session close: " + e.reason }

func closeWith(reason string) error { return &errClose{reason: reason} }

// Session 一个已接受通道上的帧协议会话，独占一个 worker 协程
type Session struct {
	srv    *Server
	ch     *transport.Channel
	info   *transport.ChannelInfo
	log    *zap.Logger
	opened time.Time
	frames protocol.FrameReader

	mu          sync.Mutex
	done        bool
	closeReason string // 外部请求的关闭原因
	userID      string
}

func newSession(srv *Server, ch *transport.Channel, info *transport.ChannelInfo) *Session {
	return &Session{
		srv:    srv,
		ch:     ch,
		info:   info,
		opened: time.Now(),
		log: srv.log.With(
			zap.String("channel_id", ch.ID()),
			zap.String("backend", ch.Backend()),
			zap.String("peer", info.Peer()),
		),
	}
}

// ID 返回通道 ID
func (s *Session) ID() string {
	return s.ch.ID()
}

// UserID 返回认证后的用户 ID
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// RequestClose 请求关闭会话，worker 在下一次等待返回时退出
//
// 可从任意协程调用；会话已结束时无效果。
func (s *Session) RequestClose(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	if s.closeReason == "" {
		s.closeReason = reason
	}
	s.ch.Interrupt()
}

func (s *Session) requested() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

func (s *Session) authenticated() bool {
	return s.UserID() != ""
}

// run worker 主循环：Wait → Read → 解帧 → 分发
func (s *Session) run() {
	reason := s.loop()
	s.finish(reason)
}

func (s *Session) loop() string {
	idle := s.srv.cfg.Channel.IdleTimeout
	if idle <= 0 {
		idle = transport.WaitForever
	}
	buf := make([]byte, s.srv.cfg.Channel.ReadBuffer)

	for {
		if r := s.requested(); r != "" {
			return r
		}

		readable, _, err := s.ch.Wait(true, false, idle)
		if err != nil {
			s.log.Debug("channel wait failed", zap.Error(err))
			return ReasonWaitError
		}
		if !readable {
			// 只有 RequestClose 会中断等待，其余情况都是超时
			if r := s.requested(); r != "" {
				return r
			}
			return ReasonIdleTimeout
		}

		n, err := s.ch.Read(buf)
		if err != nil {
			s.log.Debug("channel read failed", zap.Error(err))
			return ReasonReadError
		}
		if n == 0 {
			return ReasonPeerClosed
		}

		s.frames.Feed(buf[:n])
		for {
			f, err := s.frames.Next()
			if err != nil {
				s.log.Warn("invalid frame", zap.Error(err))
				_ = s.replyError(0, protocol.ErrCodeInvalidRequest, err.Error())
				return ReasonProtocolError
			}
			if f == nil {
				break
			}
			if err := s.dispatch(f); err != nil {
				var ec *errClose
				if errors.As(err, &ec) {
					return ec.reason
				}
				s.log.Debug("channel write failed", zap.Error(err))
				return ReasonWriteError
			}
		}
	}
}

// dispatch 处理一帧；返回 errClose 表示按原因关闭，其余错误为写失败
func (s *Session) dispatch(f *protocol.Frame) error {
	metrics.FramesReceived.WithLabelValues(protocol.MsgTypeName(f.MsgType)).Inc()

	if f.MsgType != protocol.MsgTypeAuth && s.srv.cfg.Auth.Required && !s.authenticated() {
		if err := s.replyError(f.Seq, protocol.ErrCodeAuthRequired, ""); err != nil {
			return err
		}
		return closeWith(ReasonAuthRequired)
	}

	switch f.MsgType {
	case protocol.MsgTypeAuth:
		return s.handleAuth(f)
	case protocol.MsgTypeEcho:
		return s.reply(&protocol.Frame{MsgType: protocol.MsgTypeEchoResp, Seq: f.Seq, Payload: f.Payload})
	case protocol.MsgTypeInfo:
		return s.handleInfo(f)
	case protocol.MsgTypeHeartbeat:
		return s.replyBody(protocol.MsgTypeHeartbeatResp, f.Seq, &protocol.HeartbeatBody{
			Timestamp: time.Now().UnixMilli(),
		})
	default:
		s.log.Warn("unknown message type", zap.Uint32("msg_type", f.MsgType))
		return s.replyError(f.Seq, protocol.ErrCodeUnknownType, "")
	}
}

// handleAuth 校验令牌；失败时回复后关闭会话
func (s *Session) handleAuth(f *protocol.Frame) error {
	var req protocol.AuthRequest
	if err := protocol.DecodeBody(f, &req); err != nil {
		if err := s.replyAuth(f.Seq, "", protocol.ErrCodeInvalidRequest); err != nil {
			return err
		}
		return closeWith(ReasonAuthFailed)
	}

	userID, err := s.srv.authenticate(req.Token, req.UserID)
	if err != nil {
		s.log.Warn("authentication failed", zap.Error(err))
		code := protocol.ErrCodeAuthFailed
		if errors.Is(err, auth.ErrTokenExpired) {
			code = protocol.ErrCodeTokenExpired
		}
		if err := s.replyAuth(f.Seq, "", code); err != nil {
			return err
		}
		return closeWith(ReasonAuthFailed)
	}

	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
	s.log.Info("channel authenticated", zap.String("user_id", userID))
	return s.replyAuth(f.Seq, userID, protocol.ErrCodeSuccess)
}

func (s *Session) handleInfo(f *protocol.Frame) error {
	return s.replyBody(protocol.MsgTypeInfoResp, f.Seq, &protocol.InfoResponse{
		ChannelID: s.ch.ID(),
		Backend:   s.ch.Backend(),
		Peer:      s.info.Peer(),
		ServerID:  s.srv.cfg.Server.ID,
		UserID:    s.UserID(),
		BytesIn:   s.ch.BytesIn(),
		BytesOut:  s.ch.BytesOut(),
		Attrs:     s.info.Attrs,
	})
}

func (s *Session) replyAuth(seq uint64, userID string, code int) error {
	return s.replyBody(protocol.MsgTypeAuthResp, seq, &protocol.AuthResponse{
		Success:  code == protocol.ErrCodeSuccess,
		UserID:   userID,
		ServerID: s.srv.cfg.Server.ID,
		Code:     code,
		Message:  protocol.ErrCodeMessage[code],
	})
}

func (s *Session) replyError(seq uint64, code int, message string) error {
	return s.replyBody(protocol.MsgTypeError, seq, protocol.NewError(code, message))
}

func (s *Session) replyBody(msgType uint32, seq uint64, body interface{}) error {
	f, err := protocol.NewFrame(msgType, seq, body)
	if err != nil {
		return err
	}
	return s.reply(f)
}

func (s *Session) reply(f *protocol.Frame) error {
	return s.ch.Write(protocol.EncodeFrame(f))
}

// finish 销毁通道并上报指标与事件
func (s *Session) finish(reason string) {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()

	ev := newEvent(EventClosed, s)
	ev.Reason = reason
	s.ch.Destroy()

	lifetime := time.Since(s.opened)
	metrics.SessionsActive.Dec()
	metrics.SessionCloseReason.WithLabelValues(reason).Inc()
	metrics.SessionDuration.Observe(lifetime.Seconds())

	s.log.Info("channel closed",
		zap.String("reason", reason),
		zap.String("user_id", ev.UserID),
		zap.String("received", sizestr.ToString(int64(ev.BytesIn))),
		zap.String("sent", sizestr.ToString(int64(ev.BytesOut))),
		zap.Duration("lifetime", lifetime),
	)

	s.srv.removeSession(s)
	s.srv.sink.Publish(ev)
}
