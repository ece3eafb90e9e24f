// Package batch drives record sets through the worker pool: in-memory windows
// processed one after another, or remote pages fanned out to a bounded set of
// page workers.
package batch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vocallabs/llm-batch/internal/workpool"
)

// Windows splits items into consecutive slices of size. Every window has
// exactly size elements except possibly the last. A size below 1 yields a
// single window.
func Windows[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size < 1 {
		size = len(items)
	}

	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}

// Driver configures a sequential-window, parallel-item run.
type Driver struct {
	// BatchSize is the window size.
	BatchSize int
	// Parallelism bounds concurrent items inside one window.
	Parallelism int
	// Delay is the pause between windows. Zero disables it.
	Delay time.Duration
	// Sleep overrides the pause implementation; nil uses SleepContext.
	Sleep func(ctx context.Context, d time.Duration)
}

// Tally counts outcomes across a driver run.
type Tally struct {
	Windows   int `json:"windows" yaml:"windows"`
	Attempted int `json:"attempted" yaml:"attempted"`
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Failed    int `json:"failed" yaml:"failed"`
	Skipped   int `json:"skipped" yaml:"skipped"`
}

// Add folds one outcome into the tally. Skipped items are not attempts.
func (t *Tally) Add(o workpool.Outcome) {
	switch o {
	case workpool.Succeeded:
		t.Attempted++
		t.Succeeded++
	case workpool.Failed:
		t.Attempted++
		t.Failed++
	case workpool.Skipped:
		t.Skipped++
	}
}

// WindowFunc handles one whole window and returns one result per item.
type WindowFunc[T, R any] func(ctx context.Context, window []T) []workpool.Result[R]

// ItemFunc handles one item.
type ItemFunc[T, R any] func(ctx context.Context, item T) workpool.Result[R]

// ProcessWindows runs fn over each window in order. Window n+1 starts only
// after window n has fully returned and the courtesy delay has elapsed.
func ProcessWindows[T, R any](ctx context.Context, d Driver, items []T, fn WindowFunc[T, R]) ([]workpool.Result[R], Tally) {
	var tally Tally
	windows := Windows(items, d.BatchSize)
	results := make([]workpool.Result[R], 0, len(items))

	for i, window := range windows {
		out := fn(ctx, window)
		for _, r := range out {
			tally.Add(r.Outcome)
		}
		results = append(results, out...)
		tally.Windows++

		zap.L().Debug("batch: window complete",
			zap.Int("window", i+1),
			zap.Int("windows", len(windows)),
			zap.Int("size", len(window)),
			zap.Int("succeeded_total", tally.Succeeded),
		)

		if i < len(windows)-1 && d.Delay > 0 {
			d.sleep(ctx, d.Delay)
		}
	}

	return results, tally
}

// Process runs fn over every item, window by window, with d.Parallelism items
// of a window in flight at once.
func Process[T, R any](ctx context.Context, d Driver, items []T, fn ItemFunc[T, R]) ([]workpool.Result[R], Tally) {
	return ProcessWindows(ctx, d, items, func(ctx context.Context, window []T) []workpool.Result[R] {
		return RunItems(ctx, window, d.Parallelism, fn)
	})
}

// RunItems fans fn out over items through the worker pool.
func RunItems[T, R any](ctx context.Context, items []T, parallelism int, fn ItemFunc[T, R]) []workpool.Result[R] {
	tasks := make([]workpool.Task[workpool.Result[R]], len(items))
	for i, item := range items {
		tasks[i] = func(ctx context.Context) workpool.Result[R] {
			return fn(ctx, item)
		}
	}
	return workpool.Run(ctx, tasks, parallelism)
}

func (d Driver) sleep(ctx context.Context, dur time.Duration) {
	if d.Sleep != nil {
		d.Sleep(ctx, dur)
		return
	}
	SleepContext(ctx, dur)
}

// SleepContext pauses for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
