package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vocallabs/llm-batch/internal/batch"
	"github.com/vocallabs/llm-batch/internal/model"
	"github.com/vocallabs/llm-batch/internal/workpool"
)

// ToggleStatusPass sets the active flag of every locked autostart campaign
// from its start and end time. Campaigns whose status is unknown or already
// correct are skipped.
func (o *Orchestrator) ToggleStatusPass(ctx context.Context) (*model.BatchSummary, error) {
	summary, log := newRun(OpToggle)

	campaigns, err := o.store.FetchAutostartCampaigns(ctx)
	if err != nil {
		return nil, &FetchError{Op: "campaigns", Err: err}
	}
	if len(campaigns) == 0 {
		summary.Message = "No campaigns with autostart found."
		log.Info("pipeline: no autostart campaigns")
		return summary, nil
	}

	now := o.now()
	results, tally := batch.Process(ctx, o.driver(o.cfg.Batch.WriteParallelism), campaigns,
		func(ctx context.Context, c model.Campaign) workpool.Result[bool] {
			return o.applyCampaignStatus(ctx, c, now)
		})

	for _, r := range results {
		if !r.OK() {
			continue
		}
		if r.Value {
			summary.Activated++
		} else {
			summary.Deactivated++
		}
	}

	applyTally(summary, tally)
	summary.Written = int64(tally.Succeeded)
	summary.Details = details(results, false)
	summary.Message = fmt.Sprintf("%d campaign(s) updated.", tally.Succeeded)
	recordResults(ctx, o.metrics, OpToggle, results)

	log.Info("pipeline: campaigns done",
		zap.Int("campaigns", len(campaigns)),
		zap.Int("activated", summary.Activated),
		zap.Int("deactivated", summary.Deactivated),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (o *Orchestrator) applyCampaignStatus(ctx context.Context, c model.Campaign, now time.Time) workpool.Result[bool] {
	active, known := model.CampaignStatus(now, c.StartTime, c.EndTime)
	if !known {
		return workpool.Skip[bool](c.ID, errStatusUnknown)
	}
	if active == c.Active {
		return workpool.Skip[bool](c.ID, errStatusUnchanged)
	}

	n, err := o.store.UpdateCampaignActive(ctx, c.ID, active)
	o.metrics.recordWrite(ctx, OpToggle, err)
	if err != nil {
		zap.L().Warn("pipeline: campaign write failed", zap.String("campaign_id", c.ID), zap.Error(err))
		return workpool.Failure[bool](c.ID, err)
	}
	if n == 0 {
		return workpool.Failure[bool](c.ID, errNoRowsUpdated)
	}
	return workpool.Success(c.ID, active)
}
