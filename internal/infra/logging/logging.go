package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"ticketing-refund-core/internal/config"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger configured from config.
// Supports "trace" | "debug" | "info" | "warn" | "error" levels
// and "json" | "console" formats. Sampling can be enabled to reduce noise in prod.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	level, _ := zerolog.ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var base zerolog.Logger
	if strings.ToLower(cfg.Format) == "console" || dev {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		base = zerolog.New(out).With().Timestamp().Logger()
	} else {
		base = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	if cfg.Sampling && !dev {
		// Simple sampling: keep one in every 100.
		sampled := base.Sample(&zerolog.BasicSampler{N: 100})
		return &sampled
	}
	return &base
}

type ctxKey string

const (
	ctxTraceID        ctxKey = "trace_id"
	ctxActor          ctxKey = "actor"
	ctxRefundID       ctxKey = "refund_id"
	ctxCancellationID ctxKey = "cancellation_id"
)

// With attaches common context fields such as trace_id and actor.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	if v := ctx.Value(ctxTraceID); v != nil {
		l = l.Str("trace_id", v.(string))
	}
	if v := ctx.Value(ctxActor); v != nil {
		l = l.Str("actor", v.(string))
	}
	if v := ctx.Value(ctxRefundID); v != nil {
		l = l.Str("refund_id", v.(string))
	}
	if v := ctx.Value(ctxCancellationID); v != nil {
		l = l.Str("cancellation_id", v.(string))
	}
	logger := l.Logger()
	return &logger
}

// TraceDuration logs start and end with elapsed duration at TRACE level.
// Usage: defer logging.TraceDuration(logger, "RefundUC.Process")()
func TraceDuration(logger *zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Trace().Str("method", name).Msg("start")
	return func() {
		elapsed := time.Since(start)
		logger.Trace().Str("method", name).Dur("duration", elapsed).Msg("finish")
	}
}

// Helpers to put IDs into context.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxTraceID, id)
}
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ctxActor, actor)
}
func WithRefundID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRefundID, id)
}
func WithCancellationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxCancellationID, id)
}
