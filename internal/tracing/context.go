package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	TraceIDKey    ContextKey = "trace_id"
	IdentityKey   ContextKey = "identity"
	SyncReasonKey ContextKey = "sync_reason"
)

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithIdentity tags the context with the index partition being served.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithSyncReason records what triggered a sync pass (start, watch, search, interval, ...).
func WithSyncReason(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, SyncReasonKey, reason)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetIdentity retrieves the identity from the context
func GetIdentity(ctx context.Context) string {
	return stringValue(ctx, IdentityKey)
}

// GetSyncReason retrieves the sync reason from the context
func GetSyncReason(ctx context.Context) string {
	return stringValue(ctx, SyncReasonKey)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// NewRequestContext returns ctx with a fresh trace ID unless one is present.
func NewRequestContext(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, NewTraceID())
}

// LoggerFromContext adds the tracing fields carried by ctx to a logger.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return base
	}
	lc := base.With()
	if v := GetTraceID(ctx); v != "" {
		lc = lc.Str("trace_id", v)
	}
	if v := GetIdentity(ctx); v != "" {
		lc = lc.Str("identity", v)
	}
	if v := GetSyncReason(ctx); v != "" {
		lc = lc.Str("reason", v)
	}
	return lc.Logger()
}
