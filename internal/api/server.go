package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ZK-Intent-Fusion/internal/auth"
	xerrors "ZK-Intent-Fusion/internal/errors"
	"ZK-Intent-Fusion/internal/intent"
	"ZK-Intent-Fusion/internal/lifecycle"
	"ZK-Intent-Fusion/internal/observability/metrics"
	"ZK-Intent-Fusion/pkg/logger"
)

const (
	maxBodyBytes = 1 << 20
	defaultLimit = 20
	maxLimit     = 200
)

// Lifecycle 是 API 依赖的生命周期操作集合。
type Lifecycle interface {
	Submit(ctx context.Context, text, user string) (*lifecycle.Submission, error)
	Parse(ctx context.Context, text, user string) (*intent.Intent, error)
	Auction(ctx context.Context, commitment string) (*lifecycle.Submission, error)
	Authorize(ctx context.Context, commitment, signature string) (*lifecycle.Authorization, error)
	Execute(ctx context.Context, commitment string) (*lifecycle.ExecutionLog, error)
	Status(ctx context.Context, commitment string) (*lifecycle.Status, error)
	List(ctx context.Context, limit int) ([]*intent.Intent, error)
	Reset(ctx context.Context) error
}

var _ Lifecycle = (*lifecycle.Orchestrator)(nil)

// IntentRequest 是提交与解析接口的请求体。
type IntentRequest struct {
	Text string `json:"text"`
	User string `json:"user"`
}

// AuthorizeRequest 是授权接口的请求体。
type AuthorizeRequest struct {
	Signature string `json:"signature"`
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	svc     Lifecycle
	limiter *RateLimiter
	auth    *auth.Service
	logger  *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithRateLimit 启用按 IP 限流，rps 不大于 0 时不限流。
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = NewRateLimiter(rps, burst)
		}
	}
}

// WithAuth 要求写操作携带令牌。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc Lifecycle, opts ...Option) *Server {
	s := &Server{addr: addr, svc: svc, logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 组装路由与中间件。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	write := []string{auth.PermissionIntentsWrite}
	admin := []string{auth.PermissionAdminReset}

	s.route(mux, "POST /api/v1/intents", "submit", s.handleSubmit, write)
	s.route(mux, "POST /api/v1/intents/parse", "parse", s.handleParse, write)
	s.route(mux, "POST /api/v1/intents/{commitment}/auction", "auction", s.handleAuction, write)
	s.route(mux, "POST /api/v1/intents/{commitment}/authorize", "authorize", s.handleAuthorize, write)
	s.route(mux, "POST /api/v1/intents/{commitment}/execute", "execute", s.handleExecute, write)
	s.route(mux, "GET /api/v1/intents/{commitment}", "status", s.handleStatus, nil)
	s.route(mux, "GET /api/v1/intents", "list", s.handleList, nil)
	s.route(mux, "POST /api/v1/admin/reset", "reset", s.handleReset, admin)
	s.route(mux, "GET /healthz", "healthz", s.handleHealth, nil)
	mux.Handle("GET /metrics", metrics.Handler())

	var handler http.Handler = mux
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	return handler
}

// route 注册单个路由，并附加指标与鉴权。
func (s *Server) route(mux *http.ServeMux, pattern, name string, fn http.HandlerFunc, perms []string) {
	var handler http.Handler = fn
	if len(perms) > 0 && s.auth != nil {
		handler = s.auth.Guard(auth.Policy{Route: name, Permissions: perms}, s.deny)(handler)
	}
	mux.Handle(pattern, instrument(name, handler))
}

func (s *Server) deny(w http.ResponseWriter, r *http.Request, status int, err error) {
	code := CodeUnauthenticated
	if status == http.StatusForbidden {
		code = CodeForbidden
	}
	s.fail(w, r, xerrors.Wrap(code, err, http.StatusText(status)))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req IntentRequest
	if !s.decode(w, r, &req) {
		return
	}
	sub, err := s.svc.Submit(r.Context(), req.Text, req.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req IntentRequest
	if !s.decode(w, r, &req) {
		return
	}
	in, err := s.svc.Parse(r.Context(), req.Text, req.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

func (s *Server) handleAuction(w http.ResponseWriter, r *http.Request) {
	sub, err := s.svc.Auction(r.Context(), r.PathValue("commitment"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	authz, err := s.svc.Authorize(r.Context(), r.PathValue("commitment"), req.Signature)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authz)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	log, err := s.svc.Execute(r.Context(), r.PathValue("commitment"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Status(r.Context(), r.PathValue("commitment"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.fail(w, r, xerrors.New(CodeBadRequest, "limit must be a positive integer", xerrors.WithMetadata("field", "limit")))
			return
		}
		limit = min(parsed, maxLimit)
	}
	intents, err := s.svc.List(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if intents == nil {
		intents = []*intent.Intent{}
	}
	writeJSON(w, http.StatusOK, intents)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Reset(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("request body is empty")
		}
		s.fail(w, r, xerrors.Wrap(CodeBadRequest, err, "请求体解析失败"))
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, class := Classify(err)
	level := slog.LevelInfo
	if class == xerrors.ClassServer {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "请求失败",
		slog.String("path", r.URL.Path),
		slog.String("subject", auth.SubjectName(r.Context())),
		slog.Int("status", status),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.String("error", err.Error()))
	writeError(w, err)
}

// statusRecorder 捕获响应状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
