// Package gateway 提供本地管理接口：健康检查、指标、登录态、扫码二维码、定时任务启停和手动发说说。
package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/cron"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/monitor"
	"github.com/smallnest/maizone/session"
	"github.com/smallnest/maizone/store"
	"go.uber.org/zap"
)

// SessionService 登录态查询与重置，*session.Manager 实现了它
type SessionService interface {
	Status() session.Status
	Reset()
}

// QRSource 等待扫码中的二维码，*session.QRCodeStrategy 实现了它
type QRSource interface {
	Latest() ([]byte, bool)
}

// PostPublisher 发说说，*monitor.Publisher 实现了它
type PostPublisher interface {
	Publish(ctx context.Context, topic string) (*monitor.Published, error)
}

// JobControl 定时任务查看和启停，*cron.Scheduler 实现了它
type JobControl interface {
	ListJobs() []cron.Job
	EnableJob(id string) error
	DisableJob(id string) error
}

// Deps 管理接口依赖，为 nil 的项对应接口返回 503
type Deps struct {
	Sessions  SessionService
	QRCode    QRSource
	Publisher PostPublisher
	Store     store.SeenStore
	Jobs      JobControl
	Metrics   http.Handler
}

// Server 管理接口服务器
type Server struct {
	cfg     config.GatewayConfig
	deps    Deps
	methods map[string]rpcMethod
	router  chi.Router

	mu      sync.Mutex
	server  *http.Server
	running bool
}

// NewServer 创建管理接口服务器
func NewServer(cfg config.GatewayConfig, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps}
	s.methods = s.rpcMethods()
	s.router = s.routes()
	return s
}

// Handler 返回路由，便于测试和嵌入
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.bearerAuth)

		r.Get("/session", s.handleSessionStatus)
		r.Post("/session/reset", s.handleSessionReset)
		r.Get("/login/qrcode", s.handleQRCode)
		r.Post("/posts", s.handlePublish)
		r.Get("/seen", s.handleSeen)
		r.Get("/jobs", s.handleJobs)
		r.Post("/jobs/{id}/enable", s.handleJobToggle(true))
		r.Post("/jobs/{id}/disable", s.handleJobToggle(false))
		r.Post("/rpc", s.handleRPC)
	})
	return r
}

// Start 监听端口，ctx 结束时关闭
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	s.running = true
	srv := s.server
	s.mu.Unlock()

	go func() {
		logger.Info("Admin gateway started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin gateway error", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()
	return nil
}

// Stop 停止服务器
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown admin gateway", zap.Error(err))
		return err
	}
	logger.Info("Admin gateway stopped")
	return nil
}

// bearerAuth 校验 Authorization: Bearer <token>，未配置 token 时放行
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	token := strings.TrimSpace(s.cfg.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("Admin request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}
