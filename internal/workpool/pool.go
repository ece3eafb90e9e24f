// Package workpool runs independent tasks with a fixed upper bound on
// parallelism and returns their results in submission order.
package workpool

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is a unit of work. Tasks encode their own success or failure in T.
type Task[T any] func(ctx context.Context) T

// RunAll executes tasks with at most maxParallel running at once and blocks
// until every task has returned. results[i] always belongs to tasks[i],
// regardless of completion order. A maxParallel below 1 runs tasks one at a
// time.
//
// Tasks are never cancelled by the pool: a slow or failing task does not
// affect its siblings.
func RunAll[T any](ctx context.Context, tasks []Task[T], maxParallel int) []T {
	results := make([]T, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	if maxParallel < 1 {
		maxParallel = 1
	}

	var g errgroup.Group
	g.SetLimit(maxParallel)

	for i, task := range tasks {
		g.Go(func() error {
			results[i] = task(ctx)
			return nil
		})
	}

	// Tasks never return errors, so Wait only drains.
	_ = g.Wait()
	return results
}

// Run is RunAll for tasks producing a Result. A task that panics is
// converted into a Failed result instead of crashing the batch.
func Run[R any](ctx context.Context, tasks []Task[Result[R]], maxParallel int) []Result[R] {
	guarded := make([]Task[Result[R]], len(tasks))
	for i, task := range tasks {
		guarded[i] = func(ctx context.Context) (res Result[R]) {
			defer func() {
				if p := recover(); p != nil {
					zap.L().Error("workpool: task panicked", zap.Int("task", i), zap.Any("panic", p))
					res = Failure[R]("", eris.New(fmt.Sprintf("workpool: task %d panicked: %v", i, p)))
				}
			}()
			return task(ctx)
		}
	}
	return RunAll(ctx, guarded, maxParallel)
}
