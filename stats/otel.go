package stats

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// MeterName is the instrumentation scope of querytap metrics.
	MeterName = "querytap/stats"

	metricDuration = "querytap.metric.duration"
	metricCalls    = "querytap.metric.calls"

	attrMetricName  = "metric.name"
	attrScoped      = "scoped"
	attrTransaction = "transaction.name"
)

// OTelStore records observations as OpenTelemetry instruments.
type OTelStore struct {
	duration metric.Float64Histogram
	calls    metric.Int64Counter
}

var _ Store = (*OTelStore)(nil)

// NewOTelStore creates the store's instruments on meter.
func NewOTelStore(meter metric.Meter) (*OTelStore, error) {
	duration, err := meter.Float64Histogram(
		metricDuration,
		metric.WithDescription("Duration of instrumented operations by metric name"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s histogram: %w", metricDuration, err)
	}

	calls, err := meter.Int64Counter(
		metricCalls,
		metric.WithDescription("Number of instrumented operations by metric name"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", metricCalls, err)
	}

	return &OTelStore{duration: duration, calls: calls}, nil
}

// RecordMetric records one observation.
func (o *OTelStore) RecordMetric(ctx context.Context, name string, seconds float64, scoped bool) {
	attrs := []attribute.KeyValue{
		attribute.String(attrMetricName, name),
		attribute.Bool(attrScoped, scoped),
	}
	if scoped {
		if s, ok := scopeName(ctx); ok {
			attrs = append(attrs, attribute.String(attrTransaction, s))
		}
	}

	opt := metric.WithAttributes(attrs...)
	o.duration.Record(ctx, seconds, opt)
	o.calls.Add(ctx, 1, opt)
}
