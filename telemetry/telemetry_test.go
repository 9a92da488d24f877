package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestNewTracerProvider_ExportsToExporter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := NewTracerProvider("tdkit-test", exporter, nil)
	defer tp.Shutdown(context.Background())

	_, span := Tracer(tp).Start(context.Background(), "compose")
	span.SetAttributes(attribute.String("uri", "file://lamp.tm.json"))
	EndSpan(span, errors.New("boom"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "compose", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "boom", spans[0].Status.Description)

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "tdkit-test", service)
}

func TestLogExporter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tp := NewTracerProvider("", nil, logger)
	defer tp.Shutdown(context.Background())

	_, span := Tracer(tp).Start(context.Background(), "resolver.Fetch")
	span.SetAttributes(attribute.Int("count", 3), attribute.Bool("cached", true))
	EndSpan(span, nil)

	out := buf.String()
	assert.Contains(t, out, "msg=span")
	assert.Contains(t, out, "name=resolver.Fetch")
	assert.Contains(t, out, "count:3")
	assert.Contains(t, out, "cached:true")
	assert.NotContains(t, out, "error=")
}

func TestLogExporter_ErrorSpansAtWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	tp := NewTracerProvider("", NewLogExporter(logger), logger)
	defer tp.Shutdown(context.Background())

	_, ok := Tracer(tp).Start(context.Background(), "fine")
	EndSpan(ok, nil)
	_, failed := Tracer(tp).Start(context.Background(), "broken")
	EndSpan(failed, errors.New("fetch failed"))

	out := buf.String()
	assert.NotContains(t, out, "name=fine")
	assert.Contains(t, out, "name=broken")
	assert.Contains(t, out, "error=\"fetch failed\"")
}

func TestParentContext(t *testing.T) {
	tests := []struct {
		name    string
		traceID string
		spanID  string
		valid   bool
	}{
		{name: "valid", traceID: "4bf92f3577b34da6a3ce929d0e0e4736", spanID: "00f067aa0ba902b7", valid: true},
		{name: "empty", traceID: "", spanID: ""},
		{name: "bad hex", traceID: "zz", spanID: "00f067aa0ba902b7"},
		{name: "short span", traceID: "4bf92f3577b34da6a3ce929d0e0e4736", spanID: "00f0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ParentContext(context.Background(), tt.traceID, tt.spanID)
			sc := trace.SpanContextFromContext(ctx)
			assert.Equal(t, tt.valid, sc.IsValid())
			if tt.valid {
				assert.True(t, sc.IsRemote())
				assert.Equal(t, tt.traceID, sc.TraceID().String())
			}
		})
	}
}

func TestCounter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	counter := Counter(mp, MetricFetches, "models fetched")
	counter.Add(context.Background(), 2)
	counter.Add(context.Background(), 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	m := rm.ScopeMetrics[0].Metrics[0]
	assert.Equal(t, MetricFetches, m.Name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)
}

func TestCounter_NilProvider(t *testing.T) {
	assert.NotPanics(t, func() {
		Counter(nil, MetricCompositions, "").Add(context.Background(), 1)
	})
}
