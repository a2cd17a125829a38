package events

import (
	"context"
	"log/slog"
	"sync/atomic"

	"ZK-Intent-Fusion/pkg/logger"
)

// AuditSink 把收到的事件写入审计日志。
type AuditSink struct {
	handled atomic.Int64
}

// Handle 可直接作为 Handler 使用。
func (s *AuditSink) Handle(_ context.Context, event Event) error {
	logger.Audit().Info("lifecycle event",
		slog.String("event_id", event.ID),
		slog.String("commitment", event.Commitment),
		slog.String("stage", event.Stage),
		slog.String("solver", event.Solver),
		slog.String("user", event.User),
		slog.Time("occurred_at", event.OccurredAt),
	)
	s.handled.Add(1)
	return nil
}

// Handled 返回已处理的事件数。
func (s *AuditSink) Handled() int64 {
	return s.handled.Load()
}
