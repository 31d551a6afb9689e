package tracing

import (
	"context"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/modelrelay/modelrelay/common/helper"
	"github.com/modelrelay/modelrelay/common/logger"
)

// otelTraceIDFromContext extracts the OpenTelemetry trace ID from a context when available.
func otelTraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	spanCtx := oteltrace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}

	return ""
}

// GetTraceID extracts the per-request TraceID from gin context using gin-middlewares.
//
// This TraceID is intended to be unique per incoming HTTP request. It may be derived
// from the OpenTelemetry span context, but it includes span-level information (e.g.
// span id) so it remains unique even when multiple requests share the same distributed
// OpenTelemetry trace id.
func GetTraceID(c *gin.Context) string {
	traceID, err := gmw.TraceID(c)
	if err != nil {
		gmw.GetLogger(c).Warn("failed to get trace ID from gin-middlewares", zap.Error(err))
		return ""
	}
	return traceID.String()
}

// GetTraceIDFromContext extracts the per-request TraceID from a standard context.
//
// When the context contains an embedded gin.Context (gmw.BackgroundCtx pattern), the
// gin-middlewares TraceID is returned.
//
// When no gin.Context is available, it falls back to the OpenTelemetry trace id.
func GetTraceIDFromContext(ctx context.Context) string {
	if ginCtx, ok := gmw.GetGinCtxFromStdCtx(ctx); ok {
		return GetTraceID(ginCtx)
	}
	if traceID := otelTraceIDFromContext(ctx); traceID != "" {
		return traceID
	}
	logger.FromContext(ctx).Warn("failed to get gin context from standard context for trace ID extraction")
	return ""
}

// GetOpenTelemetryTraceID extracts the OpenTelemetry trace id from gin context when available.
//
// This is used when callers need a stable distributed trace id (not span-scoped), e.g.
// generating OpenAI-style response IDs.
func GetOpenTelemetryTraceID(c *gin.Context) string {
	return otelTraceIDFromContext(gmw.Ctx(c))
}

// GetOpenTelemetryTraceIDFromContext extracts the OpenTelemetry trace id from a standard context.
//
// Returns empty string when no OpenTelemetry span context is available.
func GetOpenTelemetryTraceIDFromContext(ctx context.Context) string {
	return otelTraceIDFromContext(ctx)
}

// WithTraceID adds trace ID to structured logging fields
func WithTraceID(c *gin.Context, fields ...zap.Field) []zap.Field {
	traceID := GetTraceID(c)
	if traceID == "" {
		return fields
	}

	traceField := zap.String("trace_id", traceID)
	return append([]zap.Field{traceField}, fields...)
}

// WithTraceIDFromContext adds trace ID to structured logging fields from context
func WithTraceIDFromContext(ctx context.Context, fields ...zap.Field) []zap.Field {
	traceID := GetTraceIDFromContext(ctx)
	if traceID == "" {
		return fields
	}

	traceField := zap.String("trace_id", traceID)
	return append([]zap.Field{traceField}, fields...)
}

// GenerateChatCompletionID generates a chat completion ID from the trace ID.
// The same ID is reused across every chunk of one streamed response so the
// reply can be correlated with logs and metrics.
//
// Format: chatcmpl-relay-{trace-id}
func GenerateChatCompletionID(c *gin.Context) string {
	traceID := GetOpenTelemetryTraceID(c)
	if traceID == "" {
		traceID = GetTraceID(c)
	}
	if traceID == "" {
		traceID = helper.GenRequestID()
	}
	return "chatcmpl-relay-" + traceID
}

// GenerateChatCompletionIDFromContext generates a chat completion ID from standard context.
// This is useful when only context.Context is available (not gin.Context).
func GenerateChatCompletionIDFromContext(ctx context.Context) string {
	traceID := GetOpenTelemetryTraceIDFromContext(ctx)
	if traceID == "" {
		traceID = GetTraceIDFromContext(ctx)
	}
	if traceID == "" {
		traceID = helper.GenRequestID()
	}
	return "chatcmpl-relay-" + traceID
}
