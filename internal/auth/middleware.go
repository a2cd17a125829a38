package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Policy 描述一条受保护路由需要的权限。
type Policy struct {
	Route       string
	Permissions []string
}

// DenyFunc 写出拒绝响应，status 只会是 401 或 403。
type DenyFunc func(w http.ResponseWriter, r *http.Request, status int, err error)

// StatusOf 把认证失败映射为 HTTP 状态码。
func StatusOf(err error) int {
	if errors.Is(err, ErrSubjectRevoked) || errors.Is(err, ErrPermissionDenied) {
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}

func plainDeny(w http.ResponseWriter, _ *http.Request, status int, _ error) {
	http.Error(w, http.StatusText(status), status)
}

// Guard 要求请求携带满足 policy 的令牌；未启用认证时直接放行。
func (s *Service) Guard(policy Policy, deny DenyFunc) func(http.Handler) http.Handler {
	if deny == nil {
		deny = plainDeny
	}
	return func(next http.Handler) http.Handler {
		if !s.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err == nil {
				err = subject.Authorize(policy.Permissions...)
			}
			if err != nil {
				status := StatusOf(err)
				attrs := []any{
					slog.String("route", policy.Route),
					slog.String("method", r.Method),
					slog.Int("status", status),
					slog.String("error", err.Error()),
				}
				if subject != nil {
					attrs = append(attrs, slog.String("subject", subject.Name))
				}
				s.audit.Warn("auth_denied", attrs...)
				deny(w, r, status, err)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			s.audit.Info("auth_request",
				slog.String("route", policy.Route),
				slog.String("subject", subject.Name),
				slog.Int("status", aw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
