package batch

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vocallabs/llm-batch/internal/workpool"
)

// PageConfig configures a paginated aggregation run.
type PageConfig struct {
	PageSize        int
	PageParallelism int
}

// PageSource is the remote, filtered record set being paged through. Fetch
// must return records in a stable order so that offsets are deterministic.
type PageSource[T any] interface {
	Count(ctx context.Context) (int, error)
	Fetch(ctx context.Context, offset, limit int) ([]T, error)
}

// RecordFunc evaluates one record and returns one result per applicable
// prompt, or a single Skipped result when the record has nothing to evaluate.
type RecordFunc[T, E any] func(ctx context.Context, record T) []workpool.Result[E]

// FlushFunc persists one page's entries in a single bulk write and returns
// the number of affected rows.
type FlushFunc[E any] func(ctx context.Context, entries []E) (int64, error)

// PageDetail records a page-level failure.
type PageDetail struct {
	Page   int    `json:"page" yaml:"page"`
	Offset int    `json:"offset" yaml:"offset"`
	Stage  string `json:"stage" yaml:"stage"`
	Error  string `json:"error" yaml:"error"`
}

// PageTally summarizes an aggregation run. Results holds every record
// result in page order; entries whose page was never persisted are failures.
type PageTally[E any] struct {
	Total       int                  `json:"total" yaml:"total"`
	Pages       int                  `json:"pages" yaml:"pages"`
	FailedPages int                  `json:"failed_pages" yaml:"failed_pages"`
	Attempted   int                  `json:"attempted" yaml:"attempted"`
	Succeeded   int                  `json:"succeeded" yaml:"succeeded"`
	Failed      int                  `json:"failed" yaml:"failed"`
	Skipped     int                  `json:"skipped" yaml:"skipped"`
	Written     int64                `json:"written" yaml:"written"`
	Flushes     int                  `json:"flushes" yaml:"flushes"`
	Details     []PageDetail         `json:"details,omitempty" yaml:"details,omitempty"`
	Results     []workpool.Result[E] `json:"-" yaml:"-"`
}

// pageOutcome is what a single page task reduces to.
type pageOutcome[E any] struct {
	tally   Tally
	results []workpool.Result[E]
	written int64
	flushed bool
	detail  *PageDetail
}

// settleUnpersisted turns the page's successes into failures with cause err.
func (out *pageOutcome[E]) settleUnpersisted(err error) {
	for i, r := range out.results {
		if r.OK() {
			out.results[i] = workpool.Failure[E](r.SourceID, err)
		}
	}
	out.tally.Failed += out.tally.Succeeded
	out.tally.Succeeded = 0
}

// PageCount returns ceil(total/pageSize).
func PageCount(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// Aggregate pages through src and evaluates every record with eval, flushing
// each page's successful entries with one call to flush. Only the count
// query is fatal; a page whose fetch, evaluation or flush fails is recorded
// in the tally and its siblings carry on. Page tasks share no state; their
// outcomes are merged in page order once every page is done.
func Aggregate[T, E any](ctx context.Context, cfg PageConfig, src PageSource[T], eval RecordFunc[T, E], flush FlushFunc[E]) (PageTally[E], error) {
	if cfg.PageSize < 1 {
		return PageTally[E]{}, eris.New("batch: page size must be positive")
	}

	total, err := src.Count(ctx)
	if err != nil {
		return PageTally[E]{}, eris.Wrap(err, "batch: count records")
	}

	pages := PageCount(total, cfg.PageSize)
	tally := PageTally[E]{Total: total, Pages: pages}
	if pages == 0 {
		return tally, nil
	}

	zap.L().Info("batch: aggregating pages",
		zap.Int("total", total),
		zap.Int("pages", pages),
		zap.Int("page_size", cfg.PageSize),
		zap.Int("page_parallelism", cfg.PageParallelism),
	)

	tasks := make([]workpool.Task[pageOutcome[E]], pages)
	for p := range pages {
		tasks[p] = func(ctx context.Context) pageOutcome[E] {
			return runPage(ctx, p, p*cfg.PageSize, cfg.PageSize, src, eval, flush)
		}
	}

	for _, out := range workpool.RunAll(ctx, tasks, cfg.PageParallelism) {
		tally.Attempted += out.tally.Attempted
		tally.Succeeded += out.tally.Succeeded
		tally.Failed += out.tally.Failed
		tally.Skipped += out.tally.Skipped
		tally.Written += out.written
		tally.Results = append(tally.Results, out.results...)
		if out.flushed {
			tally.Flushes++
		}
		if out.detail != nil {
			tally.FailedPages++
			tally.Details = append(tally.Details, *out.detail)
		}
	}

	return tally, nil
}

func runPage[T, E any](ctx context.Context, page, offset, limit int, src PageSource[T], eval RecordFunc[T, E], flush FlushFunc[E]) (out pageOutcome[E]) {
	log := zap.L().With(zap.Int("page", page), zap.Int("offset", offset))

	var records []T
	evaluated := 0
	stage := "evaluate"
	defer func() {
		if p := recover(); p != nil {
			log.Error("batch: page panicked", zap.String("stage", stage), zap.Any("panic", p))
			out.settleUnpersisted(eris.Errorf("batch: page %d %s panicked: %v", page, stage, p))
			out.flushed = false
			out.written = 0
			msg := fmt.Sprint(p)
			if stage == "evaluate" {
				msg = fmt.Sprintf("%v (%d of %d records not evaluated)", p, len(records)-evaluated, len(records))
			}
			out.detail = &PageDetail{Page: page, Offset: offset, Stage: stage, Error: msg}
		}
	}()

	records, err := src.Fetch(ctx, offset, limit)
	if err != nil {
		log.Warn("batch: page fetch failed", zap.Error(err))
		out.detail = &PageDetail{Page: page, Offset: offset, Stage: "fetch", Error: err.Error()}
		return out
	}

	// Records inside a page are evaluated one after another.
	var entries []E
	for _, rec := range records {
		for _, r := range eval(ctx, rec) {
			out.tally.Add(r.Outcome)
			out.results = append(out.results, r)
			if r.OK() {
				entries = append(entries, r.Value)
			}
		}
		evaluated++
	}

	if len(entries) == 0 {
		return out
	}

	stage = "flush"
	n, err := flush(ctx, entries)
	out.flushed = true
	if err != nil {
		log.Warn("batch: page flush failed", zap.Int("entries", len(entries)), zap.Error(err))
		out.detail = &PageDetail{Page: page, Offset: offset, Stage: "flush", Error: err.Error()}
		out.settleUnpersisted(err)
		return out
	}
	out.written = n

	log.Debug("batch: page flushed",
		zap.Int("records", len(records)),
		zap.Int("entries", len(entries)),
		zap.Int64("written", n),
	)
	return out
}

// SourceFuncs adapts a pair of functions to PageSource.
type SourceFuncs[T any] struct {
	CountFn func(ctx context.Context) (int, error)
	FetchFn func(ctx context.Context, offset, limit int) ([]T, error)
}

// Count implements PageSource.
func (s SourceFuncs[T]) Count(ctx context.Context) (int, error) { return s.CountFn(ctx) }

// Fetch implements PageSource.
func (s SourceFuncs[T]) Fetch(ctx context.Context, offset, limit int) ([]T, error) {
	return s.FetchFn(ctx, offset, limit)
}
