package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhardy/obru-ai/internal/observability/metrics"
	"github.com/danielhardy/obru-ai/internal/session"
	"github.com/danielhardy/obru-ai/internal/task"
	"github.com/danielhardy/obru-ai/internal/tool"
	"github.com/danielhardy/obru-ai/internal/workflow"
	"github.com/danielhardy/obru-ai/pkg/logger"
)

// Server 负责暴露 REST 接口，供外部驱动会话、工作流与异步任务。
type Server struct {
	addr      string
	sessions  *session.Manager
	tasks     *task.Service
	tools     *tool.Registry
	workflows *workflow.Registry
	auth      func(http.Handler) http.Handler
	log       *slog.Logger

	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithTasks 启用异步任务接口。
func WithTasks(svc *task.Service) Option {
	return func(s *Server) { s.tasks = svc }
}

// WithTools 设置工具列表接口使用的注册表。
func WithTools(registry *tool.Registry) Option {
	return func(s *Server) { s.tools = registry }
}

// WithWorkflows 设置工作流列表接口使用的注册表。
func WithWorkflows(registry *workflow.Registry) Option {
	return func(s *Server) { s.workflows = registry }
}

// WithAuth 为 /api/ 下的全部路由挂载认证中间件。
func WithAuth(mw func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.auth = mw }
}

// WithLogger 设置日志实例。
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTimeouts 设置读写与优雅关闭的超时时间，非正值保持默认。
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, sessions *session.Manager, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		sessions:        sessions,
		log:             logger.Named("api"),
		readTimeout:     30 * time.Second,
		writeTimeout:    5 * time.Minute,
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	s.route(api, "POST /api/v1/chat", s.handleChat)
	s.route(api, "GET /api/v1/sessions", s.handleListSessions)
	s.route(api, "GET /api/v1/sessions/{id}/messages", s.handleMessages)
	s.route(api, "POST /api/v1/sessions/{id}/reset", s.handleReset)
	s.route(api, "PUT /api/v1/sessions/{id}/prompt", s.handleUpdatePrompt)
	s.route(api, "DELETE /api/v1/sessions/{id}", s.handleDeleteSession)
	s.route(api, "GET /api/v1/tools", s.handleListTools)
	s.route(api, "GET /api/v1/workflows", s.handleListWorkflows)
	s.route(api, "POST /api/v1/workflows/{name}", s.handleRunWorkflow)
	s.route(api, "POST /api/v1/tasks", s.handleCreateTask)
	s.route(api, "GET /api/v1/tasks", s.handleListTasks)
	s.route(api, "GET /api/v1/tasks/stats", s.handleTaskStats)
	s.route(api, "GET /api/v1/tasks/{id}", s.handleTaskDetail)

	var protected http.Handler = api
	if s.auth != nil {
		protected = s.auth(api)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", protected)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("API 服务关闭超时", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// route 注册路由并记录请求指标，pattern 作为 handler 标签。
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, instrument(pattern, h))
}

func instrument(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(pattern, r.Method, sw.status, time.Since(start))
	})
}

// statusWriter 捕获响应状态码。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
