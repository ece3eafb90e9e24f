// Package store persists and loads the records the pipelines work on.
// Three drivers implement Store: Postgres, SQLite and a Hasura GraphQL
// endpoint. All of them return records ordered by creation time, then id.
package store

import (
	"context"

	"github.com/vocallabs/llm-batch/internal/model"
)

// Store defines the persistence interface for the batch pipelines.
type Store interface {
	// Prospects
	FetchProspects(ctx context.Context, groupID string) ([]model.Prospect, error)
	UpdateProspectName(ctx context.Context, id, name string) (int64, error)

	// Campaigns
	FetchAutostartCampaigns(ctx context.Context) ([]model.Campaign, error)
	UpdateCampaignActive(ctx context.Context, id string, active bool) (int64, error)

	// Calls and evaluations
	FetchAgentPrompts(ctx context.Context, agentID string) ([]model.AgentPrompt, error)
	CountCalls(ctx context.Context, filter model.CallFilter) (int, error)
	FetchCalls(ctx context.Context, filter model.CallFilter, offset, limit int) ([]model.Call, error)
	// GetCompletedCall returns nil, nil when no completed call has the id.
	GetCompletedCall(ctx context.Context, callID string) (*model.Call, error)
	UpsertCallData(ctx context.Context, entries []model.EvaluationEntry) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
