package logging

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger wraps structured logging with OpenTelemetry integration
// Provides consistent logging interface across server components
// Automatically correlates logs with distributed traces for observability
// Time Complexity: O(1) for logging operations
// Space Complexity: O(1) per log entry
type Logger struct {
	slogger *slog.Logger // Structured logger implementation
	tracer  trace.Tracer // OpenTelemetry tracer for correlation
}

// NewLogger creates structured logger with OpenTelemetry integration
// Configures JSON output for structured log parsing and correlation
// Initializes tracer for distributed tracing integration
// Time Complexity: O(1) - logger initialisation
// Space Complexity: O(1) - fixed logger structure
func NewLogger(service string) *Logger {
	// Configure structured JSON logging
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Rename timestamp field for consistency
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	})

	logger := slog.New(handler)
	tracer := otel.Tracer(service)

	return &Logger{
		slogger: logger,
		tracer:  tracer,
	}
}

// Debug logs debug-level message with context and trace correlation
// Used for detailed debugging information in development/troubleshooting
// Time Complexity: O(1) - structured logging with fixed overhead
// Space Complexity: O(n) where n is message and attribute size
func (l *Logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs informational message with context and trace correlation
// Standard level for production operational logging
// Time Complexity: O(1) - structured logging with fixed overhead
// Space Complexity: O(n) where n is message and attribute size
func (l *Logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs warning message with context and trace correlation
// Used for recoverable errors and unexpected conditions
// Time Complexity: O(1) - structured logging with fixed overhead
// Space Complexity: O(n) where n is message and attribute size
func (l *Logger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs error message with context and trace correlation
// Automatically marks associated span as error for tracing
// Time Complexity: O(1) - structured logging with fixed overhead
// Space Complexity: O(n) where n is message and attribute size
func (l *Logger) Error(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	// Add error to attributes if provided
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))

		// Mark span as error for distributed tracing
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
	}

	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
}

// Fatal logs fatal error and terminates the process
// This is the process-fatal path: failed readiness registration, failed
// bind/listen, unexpected errno on a worker-socket read all end here
// Exits with code 1 after logging for monitoring systems
func (l *Logger) Fatal(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
	os.Exit(1)
}

// logWithTrace adds OpenTelemetry trace correlation to log entries
// Extracts trace and span IDs from context for log correlation
// Enables linking logs to distributed traces for debugging
// Time Complexity: O(1) - context extraction and logging
// Space Complexity: O(1) - adds fixed trace fields
func (l *Logger) logWithTrace(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	// Extract trace information from context
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}

	// Add service context information
	attrs = append(attrs,
		slog.String("service", "dynamo"),
		slog.Time("timestamp", time.Now()),
	)

	l.slogger.LogAttrs(ctx, level, msg, attrs...)
}

// StartSpan creates new OpenTelemetry span with logging context
// Provides distributed tracing for request flow and performance monitoring
// Time Complexity: O(1) - span creation and context propagation
// Space Complexity: O(1) - span metadata storage
func (l *Logger) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// RequestSpan opens a span covering one client request inside the reactor
// The raw-fd request path has no http.Handler chain to hang middleware on,
// so the reactor calls this directly at classification time and ends the
// span when the response completes or the connection is torn down
func (l *Logger) RequestSpan(ctx context.Context, method, target, connID string) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, method+" "+target,
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.target", target),
			attribute.String("conn.id", connID),
		),
	)
}

// WithFields creates logger with pre-configured attributes
// Useful for adding consistent context to related log entries
// Returns new logger instance to avoid modifying original
// Time Complexity: O(n) where n is number of attributes
// Space Complexity: O(n) for attribute storage
func (l *Logger) WithFields(attrs ...slog.Attr) *Logger {
	anyAttrs := make([]any, len(attrs))
	for i, a := range attrs {
		anyAttrs[i] = a
	}
	return &Logger{
		slogger: l.slogger.With(anyAttrs...),
		tracer:  l.tracer,
	}
}
