package requestctx

import (
	"context"

	"go.uber.org/zap"

	domain "github.com/hanko-field/storefront/internal/domain"
)

type contextKey string

const (
	loggerContextKey contextKey = "github.com/hanko-field/storefront/internal/platform/requestctx/logger"
	traceContextKey  contextKey = "github.com/hanko-field/storefront/internal/platform/requestctx/trace"
	ownerContextKey  contextKey = "github.com/hanko-field/storefront/internal/platform/requestctx/owner"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger returned when no logger is attached.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithOwner attaches the resolved cart/order owner.
func WithOwner(ctx context.Context, owner domain.Owner) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ownerContextKey, owner)
}

// Owner returns the owner resolved for the request, if any.
func Owner(ctx context.Context) (domain.Owner, bool) {
	if ctx == nil {
		return domain.Owner{}, false
	}
	owner, ok := ctx.Value(ownerContextKey).(domain.Owner)
	if !ok || owner.IsZero() {
		return domain.Owner{}, false
	}
	return owner, true
}
