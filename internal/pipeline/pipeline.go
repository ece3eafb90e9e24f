// Package pipeline holds the batch entry points: prospect name
// transliteration, campaign autostart and post-call evaluation. Each entry
// point fetches its records, drives them through the batch package and
// returns a BatchSummary.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vocallabs/llm-batch/internal/batch"
	"github.com/vocallabs/llm-batch/internal/config"
	"github.com/vocallabs/llm-batch/internal/model"
	"github.com/vocallabs/llm-batch/internal/store"
	"github.com/vocallabs/llm-batch/internal/textgen"
	"github.com/vocallabs/llm-batch/internal/workpool"
)

// Operation names, used in summaries and metric attributes.
const (
	OpTranslate   = "prospects.translate"
	OpToggle      = "campaigns.toggle"
	OpEvaluate    = "calls.evaluate"
	OpEvaluateOne = "calls.evaluate_one"
)

// Caller performs one text generation round-trip. *textgen.Adapter
// satisfies it.
type Caller interface {
	Call(ctx context.Context, req textgen.Request) (string, error)
}

// Orchestrator runs the batch pipelines against one store and two text
// callers.
type Orchestrator struct {
	cfg        *config.Config
	store      store.Store
	translator Caller
	evaluator  Caller
	metrics    *Metrics
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records record and write outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides time.Now for campaign status decisions.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleep overrides the courtesy delay implementation.
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// New creates an Orchestrator. cfg is read, never modified.
func New(cfg *config.Config, st store.Store, translator, evaluator Caller, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		store:      st,
		translator: translator,
		evaluator:  evaluator,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) driver(parallelism int) batch.Driver {
	return batch.Driver{
		BatchSize:   o.cfg.Batch.Size,
		Parallelism: parallelism,
		Delay:       o.cfg.Batch.Delay(),
		Sleep:       o.sleep,
	}
}

func newRun(op string) (*model.BatchSummary, *zap.Logger) {
	runID := uuid.NewString()
	return &model.BatchSummary{RunID: runID, Operation: op},
		zap.L().With(zap.String("run_id", runID), zap.String("operation", op))
}

// applyTally copies counts into the summary.
func applyTally(s *model.BatchSummary, t batch.Tally) {
	s.Attempted = t.Attempted
	s.Succeeded = t.Succeeded
	s.Failed = t.Failed
	s.Skipped = t.Skipped
}

// details lists every result, or only the unsuccessful ones when
// failuresOnly is set.
func details[R any](results []workpool.Result[R], failuresOnly bool) []model.Detail {
	var out []model.Detail
	for _, r := range results {
		if failuresOnly && r.OK() {
			continue
		}
		out = append(out, model.Detail{ID: r.SourceID, Status: detailStatus(r.Outcome), Reason: r.Reason()})
	}
	return out
}

func detailStatus(o workpool.Outcome) string {
	switch o {
	case workpool.Succeeded:
		return model.DetailSucceeded
	case workpool.Skipped:
		return model.DetailSkipped
	default:
		return model.DetailFailed
	}
}
