package textgen

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	CallDurationHistogramName = "llm_batch_text_call_duration_seconds"
	CallCounterName           = "llm_batch_text_calls_total"
)

// Attribute keys.
const (
	AttrProvider = "provider"
	AttrOutcome  = "outcome" // success, failure
	AttrKind     = "kind"
)

// Metrics records text call latency and outcomes.
type Metrics struct {
	duration metric.Float64Histogram
	calls    metric.Int64Counter
}

// NewMetrics creates call metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates call metrics on mp.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("llm-batch/textgen")

	duration, err := meter.Float64Histogram(
		CallDurationHistogramName,
		metric.WithDescription("Duration of text generation calls in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	calls, err := meter.Int64Counter(
		CallCounterName,
		metric.WithDescription("Total number of text generation calls"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{duration: duration, calls: calls}, nil
}

func (m *Metrics) recordCall(ctx context.Context, provider string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String(AttrProvider, provider)}
	if err == nil {
		attrs = append(attrs, attribute.String(AttrOutcome, "success"))
	} else {
		kind := "unknown"
		if ce, ok := err.(*CallError); ok {
			kind = string(ce.Kind)
		}
		attrs = append(attrs, attribute.String(AttrOutcome, "failure"), attribute.String(AttrKind, kind))
	}

	set := metric.WithAttributes(attrs...)
	m.duration.Record(ctx, elapsed.Seconds(), set)
	m.calls.Add(ctx, 1, set)
}
