package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vocallabs/llm-batch/internal/workpool"
)

// Metric names.
const (
	RecordsCounterName     = "llm_batch_records_total"
	StoreWritesCounterName = "llm_batch_store_writes_total"
)

// Attribute keys.
const (
	AttrOperation = "operation"
	AttrOutcome   = "outcome"
)

// Metrics counts record outcomes and store writes per operation.
type Metrics struct {
	records metric.Int64Counter
	writes  metric.Int64Counter
}

// NewMetrics creates pipeline metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates pipeline metrics on mp.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("llm-batch/pipeline")

	records, err := meter.Int64Counter(
		RecordsCounterName,
		metric.WithDescription("Records processed by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	writes, err := meter.Int64Counter(
		StoreWritesCounterName,
		metric.WithDescription("Store write calls by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{records: records, writes: writes}, nil
}

func recordResults[R any](ctx context.Context, m *Metrics, op string, results []workpool.Result[R]) {
	if m == nil {
		return
	}
	counts := make(map[workpool.Outcome]int64)
	for _, r := range results {
		counts[r.Outcome]++
	}
	for outcome, n := range counts {
		m.records.Add(ctx, n, metric.WithAttributes(
			attribute.String(AttrOperation, op),
			attribute.String(AttrOutcome, outcome.String()),
		))
	}
}

func (m *Metrics) recordWrite(ctx context.Context, op string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.writes.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrOperation, op),
		attribute.String(AttrOutcome, outcome),
	))
}
