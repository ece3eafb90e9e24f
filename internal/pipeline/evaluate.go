package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vocallabs/llm-batch/internal/batch"
	"github.com/vocallabs/llm-batch/internal/model"
	"github.com/vocallabs/llm-batch/internal/textgen"
	"github.com/vocallabs/llm-batch/internal/workpool"
)

// DateRange bounds call creation time to [From, To). A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Valid reports whether From is before To when both are set.
func (r DateRange) Valid() bool {
	return r.From.IsZero() || r.To.IsZero() || r.From.Before(r.To)
}

// EvaluateAndWriteBack evaluates every configured prompt of the agent
// against each completed call in the range. Calls are paged; each page's
// results are upserted with one bulk write.
func (o *Orchestrator) EvaluateAndWriteBack(ctx context.Context, agentID string, dr DateRange, premium bool) (*model.BatchSummary, error) {
	if !dr.Valid() {
		return nil, ErrInvalidRange
	}

	summary, log := newRun(OpEvaluate)
	log = log.With(zap.String("agent_id", agentID), zap.Bool("premium", premium))

	prompts, err := o.store.FetchAgentPrompts(ctx, agentID)
	if err != nil {
		return nil, &FetchError{Op: "prompts", Err: err}
	}
	if len(prompts) == 0 {
		summary.Message = "No prompts configured for agent."
		log.Info("pipeline: agent has no prompts")
		return summary, nil
	}

	filter := model.CallFilter{AgentID: agentID, From: dr.From, To: dr.To}
	src := batch.SourceFuncs[model.Call]{
		CountFn: func(ctx context.Context) (int, error) {
			return o.store.CountCalls(ctx, filter)
		},
		FetchFn: func(ctx context.Context, offset, limit int) ([]model.Call, error) {
			return o.store.FetchCalls(ctx, filter, offset, limit)
		},
	}

	eval := func(ctx context.Context, call model.Call) []workpool.Result[model.EvaluationEntry] {
		return o.evaluateCall(ctx, call, prompts, premium)
	}
	flush := func(ctx context.Context, entries []model.EvaluationEntry) (int64, error) {
		n, err := o.store.UpsertCallData(ctx, entries)
		o.metrics.recordWrite(ctx, OpEvaluate, err)
		return n, err
	}

	cfg := batch.PageConfig{PageSize: o.cfg.Evaluate.PageSize, PageParallelism: o.cfg.Evaluate.PageParallelism}
	tally, err := batch.Aggregate(ctx, cfg, src, eval, flush)
	if err != nil {
		return nil, &FetchError{Op: "calls", Err: err}
	}

	summary.Attempted = tally.Attempted
	summary.Succeeded = tally.Succeeded
	summary.Failed = tally.Failed
	summary.Skipped = tally.Skipped
	summary.Written = tally.Written
	summary.Pages = tally.Pages
	summary.FailedPages = tally.FailedPages
	summary.Details = details(tally.Results, true)
	for _, d := range tally.Details {
		summary.Details = append(summary.Details, model.Detail{
			ID:     fmt.Sprintf("page-%d", d.Page),
			Status: model.DetailFailed,
			Reason: d.Stage + ": " + d.Error,
		})
	}
	summary.Message = fmt.Sprintf("Successfully processed %d/%d prompt evaluation(s) across %d call(s).",
		tally.Succeeded, tally.Attempted, tally.Total)
	recordResults(ctx, o.metrics, OpEvaluate, tally.Results)

	log.Info("pipeline: evaluation done",
		zap.Int("calls", tally.Total),
		zap.Int("pages", tally.Pages),
		zap.Int("flushes", tally.Flushes),
		zap.Int("failed_pages", tally.FailedPages),
		zap.Int64("written", tally.Written),
	)
	return summary, nil
}

// EvaluateCall evaluates the agent's prompts against one completed call and
// upserts the results with a single write.
func (o *Orchestrator) EvaluateCall(ctx context.Context, agentID, callID string, premium bool) (*model.BatchSummary, error) {
	summary, log := newRun(OpEvaluateOne)
	log = log.With(zap.String("agent_id", agentID), zap.String("call_id", callID))

	prompts, err := o.store.FetchAgentPrompts(ctx, agentID)
	if err != nil {
		return nil, &FetchError{Op: "prompts", Err: err}
	}

	call, err := o.store.GetCompletedCall(ctx, callID)
	if err != nil {
		return nil, &FetchError{Op: "call", Err: err}
	}
	if call == nil {
		return nil, ErrNotFound
	}
	if !call.HasContent(premium) {
		return nil, ErrNoContent
	}
	transcript := call.TranscriptText(premium)

	if len(prompts) == 0 {
		summary.Message = "No prompts configured for agent."
		return summary, nil
	}

	// One prompt at a time against the same call.
	results := batch.RunItems(ctx, prompts, 1, func(ctx context.Context, p model.AgentPrompt) workpool.Result[model.EvaluationEntry] {
		return o.evaluatePrompt(ctx, call.ID, p, transcript)
	})

	var tally batch.Tally
	var entries []model.EvaluationEntry
	for _, r := range results {
		tally.Add(r.Outcome)
		if r.OK() {
			entries = append(entries, r.Value)
		}
	}

	if len(entries) > 0 {
		n, err := o.store.UpsertCallData(ctx, entries)
		o.metrics.recordWrite(ctx, OpEvaluateOne, err)
		if err != nil {
			log.Warn("pipeline: call data write failed", zap.Error(err))
			for i := range results {
				if results[i].OK() {
					results[i] = workpool.Failure[model.EvaluationEntry](results[i].SourceID, err)
				}
			}
			tally.Failed += tally.Succeeded
			tally.Succeeded = 0
		} else {
			summary.Written = n
		}
	}

	applyTally(summary, tally)
	summary.Details = details(results, false)
	summary.Message = fmt.Sprintf("Successfully processed %d prompt(s).", tally.Succeeded)
	recordResults(ctx, o.metrics, OpEvaluateOne, results)

	log.Info("pipeline: call evaluated",
		zap.Int("prompts", len(prompts)),
		zap.Int("succeeded", tally.Succeeded),
		zap.Int64("written", summary.Written),
	)
	return summary, nil
}

// evaluateCall returns one result per prompt, or a single skip when the call
// has nothing to evaluate.
func (o *Orchestrator) evaluateCall(ctx context.Context, call model.Call, prompts []model.AgentPrompt, premium bool) []workpool.Result[model.EvaluationEntry] {
	if !call.HasContent(premium) {
		return []workpool.Result[model.EvaluationEntry]{
			workpool.Skip[model.EvaluationEntry](call.ID, errNoTranscript),
		}
	}
	transcript := call.TranscriptText(premium)

	out := make([]workpool.Result[model.EvaluationEntry], 0, len(prompts))
	for _, p := range prompts {
		out = append(out, o.evaluatePrompt(ctx, call.ID, p, transcript))
	}
	return out
}

func (o *Orchestrator) evaluatePrompt(ctx context.Context, callID string, p model.AgentPrompt, transcript string) workpool.Result[model.EvaluationEntry] {
	id := callID + "/" + p.Key
	temperature, topP := 0.0, 1.0

	text, err := o.evaluator.Call(ctx, textgen.Request{
		System:      evaluatorSystemPrompt,
		Prompt:      evaluationPrompt(p.Prompt, transcript),
		MaxTokens:   o.cfg.Evaluate.MaxTokens,
		Temperature: &temperature,
		TopP:        &topP,
	})
	if err != nil {
		return workpool.Failure[model.EvaluationEntry](id, err)
	}
	return workpool.Success(id, model.NewEvaluationEntry(callID, p.Key, strings.TrimSpace(text)))
}
