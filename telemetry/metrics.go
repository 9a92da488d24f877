package telemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metric names.
const (
	MetricCompositions = "tdkit.compositions"
	MetricFetches      = "tdkit.fetches"
	MetricCacheHits    = "tdkit.cache.hits"
	MetricCacheMisses  = "tdkit.cache.misses"
)

// Counter returns the named Int64Counter of mp. Instrument creation errors
// yield a no-op counter so that metrics never break a code path.
func Counter(mp metric.MeterProvider, name, description string) metric.Int64Counter {
	counter, err := Meter(mp).Int64Counter(name, metric.WithDescription(description), metric.WithUnit("{call}"))
	if err != nil {
		counter, _ = noop.NewMeterProvider().Meter(InstrumentationName).Int64Counter(name)
	}
	return counter
}
