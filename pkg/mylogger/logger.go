package mylogger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func traced(ctx context.Context, fields []zap.Field) []zap.Field {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return fields
	}

	return append(fields,
		zap.String("trace_id", spanCtx.TraceID().String()),
		zap.String("span_id", spanCtx.SpanID().String()),
	)
}

func caller(logger *zap.Logger) *zap.Logger {
	return logger.WithOptions(zap.AddCallerSkip(1))
}

func Info(ctx context.Context, logger *zap.Logger, msg string, fields ...zap.Field) {
	caller(logger).Info(msg, traced(ctx, fields)...)
}

func Error(ctx context.Context, logger *zap.Logger, msg string, fields ...zap.Field) {
	caller(logger).Error(msg, traced(ctx, fields)...)
}

func Warn(ctx context.Context, logger *zap.Logger, msg string, fields ...zap.Field) {
	caller(logger).Warn(msg, traced(ctx, fields)...)
}

func Debug(ctx context.Context, logger *zap.Logger, msg string, fields ...zap.Field) {
	caller(logger).Debug(msg, traced(ctx, fields)...)
}
