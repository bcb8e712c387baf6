package server

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/jpillora/requestlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qiminjie89/chanswitch/pkg/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// HealthStatus 健康状态
type HealthStatus struct {
	Status        string  `json:"status"`
	Reason        string  `json:"reason,omitempty"`
	ServerID      string  `json:"server_id"`
	Backend       string  `json:"backend"`
	Listening     bool    `json:"listening"`
	Sessions      int     `json:"sessions"`
	KafkaHealthy  *bool   `json:"kafka_healthy,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Health 汇总当前健康状态
func (s *Server) Health() *HealthStatus {
	h := &HealthStatus{
		ServerID:  s.cfg.Server.ID,
		Backend:   s.sw.Backend(),
		Listening: s.Listening(),
		Sessions:  s.SessionCount(),
	}
	if !s.started.IsZero() {
		h.UptimeSeconds = time.Since(s.started).Seconds()
	}
	if ks, ok := s.sink.(*KafkaSink); ok {
		ok := ks.Healthy()
		h.KafkaHealthy = &ok
	}

	switch {
	case s.stopping.Load():
		h.Status, h.Reason = "unhealthy", "shutting_down"
	case !h.Listening:
		h.Status, h.Reason = "unhealthy", "not_listening"
	default:
		h.Status = "healthy"
	}
	return h
}

// healthHandler 健康检查处理
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	h := s.Health()

	w.Header().Set("Content-Type", "application/json")
	if h.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(h)
}

// startHTTP 启动健康检查与指标 HTTP 服务，地址相同时共用一个 mux
func (s *Server) startHTTP() error {
	type endpoint struct {
		addr string
		mux  *http.ServeMux
	}
	var endpoints []*endpoint
	mux := func(addr string) *http.ServeMux {
		for _, e := range endpoints {
			if e.addr == addr {
				return e.mux
			}
		}
		e := &endpoint{addr: addr, mux: http.NewServeMux()}
		endpoints = append(endpoints, e)
		return e.mux
	}

	if s.cfg.Health.Addr != "" {
		mux(s.cfg.Health.Addr).HandleFunc("/health", s.healthHandler)
	}
	if s.cfg.Metrics.Enabled {
		mux(s.cfg.Metrics.Addr).Handle("/metrics", promhttp.Handler())
	}

	for _, e := range endpoints {
		ln, err := net.Listen("tcp", e.addr)
		if err != nil {
			return err
		}
		h := http.Handler(e.mux)
		if logger.Level() <= zapcore.DebugLevel {
			h = requestlog.Wrap(h)
		}
		srv := &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.httpServers = append(s.httpServers, srv)
		s.log.Info("starting http server", zap.String("addr", ln.Addr().String()))

		go func() {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				s.log.Error("http server error", zap.Error(err))
			}
		}()
	}
	return nil
}

// startGRPCHealth 启动 gRPC 健康检查服务
func (s *Server) startGRPCHealth() error {
	if s.cfg.Health.GRPCAddr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Health.GRPCAddr)
	if err != nil {
		return err
	}

	s.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    10 * time.Second, // ping 间隔
			Timeout: 3 * time.Second,  // ping 超时
		}),
	)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.grpcAddr = ln.Addr()

	s.log.Info("starting grpc health server", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.grpcServer.Serve(ln); err != nil {
			s.log.Error("grpc server error", zap.Error(err))
		}
	}()
	return nil
}

// setServing 更新 gRPC 健康状态（整体服务名为空串）
func (s *Server) setServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

func newHealthServer() *health.Server {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}
