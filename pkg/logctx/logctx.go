package logctx

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ctxKey string

const (
	// GinLoggerKey is the gin.Context key holding the request logger.
	GinLoggerKey = "logger"
	// GinTraceIDKey is the gin.Context key holding the trace id.
	GinTraceIDKey = "traceID"

	loggerKey  ctxKey = "logger"
	traceIDKey ctxKey = "traceID"
	userIDKey  ctxKey = "user_id"
)

// WithLogger returns a copy of ctx carrying lg.
func WithLogger(ctx context.Context, lg *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey, lg)
}

// WithTraceID returns a copy of ctx carrying the trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithUserID returns a copy of ctx carrying the acting user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// TraceID returns the trace id stored in ctx, if any.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(traceIDKey).(string)
	return s
}

// FromGin returns a request-scoped logger from gin.Context if present,
// otherwise returns the provided base logger.
func FromGin(c *gin.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return base
	}
	if l, ok := c.Get(GinLoggerKey); ok {
		if lg, ok := l.(*zap.SugaredLogger); ok && lg != nil {
			return lg
		}
	}
	if c.Request == nil {
		return base
	}
	return FromCtx(c.Request.Context(), base)
}

// FromCtx returns a logger from context if set, otherwise attempts to enrich
// base with trace_id/user_id from context values.
func FromCtx(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if ctx == nil {
		return base
	}
	if lg, ok := ctx.Value(loggerKey).(*zap.SugaredLogger); ok && lg != nil {
		return lg
	}
	var fields []interface{}
	if tid := TraceID(ctx); tid != "" {
		fields = append(fields, "trace_id", tid)
	}
	if uid, ok := ctx.Value(userIDKey).(string); ok && uid != "" {
		fields = append(fields, "user_id", uid)
	}
	if len(fields) > 0 {
		return base.With(fields...)
	}
	return base
}
