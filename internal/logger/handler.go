package logger

import (
	"context"
	"log/slog"

	"rafflekeeper/apps/backend/internal/middleware"
)

type ctxKey int

const (
	roundKey ctxKey = iota
	jobKey
)

// ContextHandler decorates records with the correlation, round and job ids
// carried by the context.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := middleware.CorrelationIDFrom(ctx); ok {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if id, ok := ctx.Value(roundKey).(string); ok && id != "" {
		r.AddAttrs(slog.String("round_id", id))
	}
	if id, ok := ctx.Value(jobKey).(string); ok && id != "" {
		r.AddAttrs(slog.String("job_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

func WithRound(ctx context.Context, roundID string) context.Context {
	return context.WithValue(ctx, roundKey, roundID)
}

func WithJob(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobKey, jobID)
}
