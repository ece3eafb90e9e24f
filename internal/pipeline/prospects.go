package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/vocallabs/llm-batch/internal/batch"
	"github.com/vocallabs/llm-batch/internal/model"
	"github.com/vocallabs/llm-batch/internal/textgen"
	"github.com/vocallabs/llm-batch/internal/workpool"
)

// TransformAndWriteBack transliterates the name of every prospect in the
// group into language and writes each converted name back. Windows run one
// after another; inside a window names are converted in parallel, then the
// successful ones are written in parallel.
func (o *Orchestrator) TransformAndWriteBack(ctx context.Context, groupID, language string) (*model.BatchSummary, error) {
	summary, log := newRun(OpTranslate)
	log = log.With(zap.String("group_id", groupID), zap.String("language", language))

	prospects, err := o.store.FetchProspects(ctx, groupID)
	if err != nil {
		return nil, &FetchError{Op: "prospects", Err: err}
	}
	if len(prospects) == 0 {
		summary.Message = "No prospects found."
		log.Info("pipeline: no prospects")
		return summary, nil
	}

	log.Info("pipeline: transliterating prospects", zap.Int("prospects", len(prospects)))

	results, tally := batch.ProcessWindows(ctx, o.driver(o.cfg.Batch.TransformParallelism), prospects,
		func(ctx context.Context, window []model.Prospect) []workpool.Result[string] {
			converted := batch.RunItems(ctx, window, o.cfg.Batch.TransformParallelism,
				func(ctx context.Context, p model.Prospect) workpool.Result[string] {
					return o.transliterate(ctx, p, language)
				})
			o.writeNames(ctx, converted)
			return converted
		})

	applyTally(summary, tally)
	summary.Written = int64(tally.Succeeded)
	summary.Details = details(results, false)
	summary.Message = fmt.Sprintf("Processed and updated %d/%d prospects.", tally.Succeeded, len(prospects))
	recordResults(ctx, o.metrics, OpTranslate, results)

	log.Info("pipeline: prospects done",
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("windows", tally.Windows),
	)
	return summary, nil
}

func (o *Orchestrator) transliterate(ctx context.Context, p model.Prospect, language string) workpool.Result[string] {
	if !p.HasName() {
		return workpool.Skip[string](p.ID, errEmptyName)
	}

	text, err := o.translator.Call(ctx, textgen.Request{
		Prompt:    translatePrompt(strings.TrimSpace(p.Name), language),
		MaxTokens: o.cfg.Batch.TranslateMaxTokens,
	})
	if err != nil {
		return workpool.Failure[string](p.ID, err)
	}

	name := strings.TrimSpace(norm.NFC.String(text))
	if name == "" {
		return workpool.Failure[string](p.ID, errEmptyOutput)
	}
	return workpool.Success(p.ID, name)
}

// writeNames writes every successful conversion back and replaces its result
// with the write outcome. A write that errors or updates no row fails the
// record.
func (o *Orchestrator) writeNames(ctx context.Context, converted []workpool.Result[string]) {
	var pending []int
	for i, r := range converted {
		if r.OK() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return
	}

	written := batch.RunItems(ctx, pending, o.cfg.Batch.WriteParallelism,
		func(ctx context.Context, i int) workpool.Result[string] {
			r := converted[i]
			n, err := o.store.UpdateProspectName(ctx, r.SourceID, r.Value)
			o.metrics.recordWrite(ctx, OpTranslate, err)
			if err != nil {
				zap.L().Warn("pipeline: prospect write failed", zap.String("prospect_id", r.SourceID), zap.Error(err))
				return workpool.Failure[string](r.SourceID, err)
			}
			if n == 0 {
				return workpool.Failure[string](r.SourceID, errNoRowsUpdated)
			}
			return r
		})

	for j, i := range pending {
		converted[i] = written[j]
	}
}
