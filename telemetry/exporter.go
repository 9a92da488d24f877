package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter is a SpanExporter writing each finished span as one structured
// log record. It lets the CLI and the gRPC server emit traces without a
// collector.
type LogExporter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogExporter creates a LogExporter logging at Debug level.
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger, level: slog.LevelDebug}
}

// ExportSpans logs the spans. It never fails.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		level := e.level
		if span.Status().Code == codes.Error {
			level = slog.LevelWarn
		}
		if !e.logger.Enabled(ctx, level) {
			continue
		}
		e.logger.LogAttrs(ctx, level, "span", spanAttrs(span)...)
	}
	return nil
}

// Shutdown is a no-op; the logger outlives the exporter.
func (e *LogExporter) Shutdown(ctx context.Context) error {
	return nil
}

func spanAttrs(span sdktrace.ReadOnlySpan) []slog.Attr {
	sc := span.SpanContext()
	attrs := []slog.Attr{
		slog.String("name", span.Name()),
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
		slog.Duration("duration", span.EndTime().Sub(span.StartTime())),
	}
	if span.Parent().IsValid() {
		attrs = append(attrs, slog.String("parent_span_id", span.Parent().SpanID().String()))
	}
	if status := span.Status(); status.Code == codes.Error {
		attrs = append(attrs, slog.String("error", status.Description))
	}
	if len(span.Attributes()) > 0 {
		attrs = append(attrs, slog.Any("attributes", attributeMap(span.Attributes())))
	}
	return attrs
}

func attributeMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		switch kv.Value.Type() {
		case attribute.BOOL:
			out[string(kv.Key)] = kv.Value.AsBool()
		case attribute.INT64:
			out[string(kv.Key)] = kv.Value.AsInt64()
		case attribute.FLOAT64:
			out[string(kv.Key)] = kv.Value.AsFloat64()
		case attribute.STRINGSLICE:
			out[string(kv.Key)] = kv.Value.AsStringSlice()
		default:
			out[string(kv.Key)] = kv.Value.Emit()
		}
	}
	return out
}
