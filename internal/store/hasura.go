package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/vocallabs/llm-batch/internal/model"
	"github.com/vocallabs/llm-batch/pkg/hasura"
)

// HasuraStore implements Store against the vocallabs Hasura GraphQL API.
type HasuraStore struct {
	client *hasura.Client
}

// NewHasura creates a store backed by the GraphQL client.
func NewHasura(client *hasura.Client) *HasuraStore {
	return &HasuraStore{client: client}
}

// Migrate is a no-op: the schema is owned by the Hasura deployment.
func (s *HasuraStore) Migrate(_ context.Context) error { return nil }

func (s *HasuraStore) Close() error { return nil }

const fetchProspectsQuery = `
query FetchProspects($group_id: uuid!) {
  vocallabs_prospects(
    where: {prospect_group_id: {_eq: $group_id}},
    order_by: [{created_at: asc}, {id: asc}]
  ) {
    id
    prospect_group_id
    name
    phone
    data
    created_at
  }
}`

type hasuraProspect struct {
	ID        string          `json:"id"`
	GroupID   string          `json:"prospect_group_id"`
	Name      *string         `json:"name"`
	Phone     *string         `json:"phone"`
	Data      json.RawMessage `json:"data"`
	CreatedAt string          `json:"created_at"`
}

func (s *HasuraStore) FetchProspects(ctx context.Context, groupID string) ([]model.Prospect, error) {
	var out struct {
		Prospects []hasuraProspect `json:"vocallabs_prospects"`
	}
	if err := s.client.Do(ctx, fetchProspectsQuery, map[string]any{"group_id": groupID}, &out); err != nil {
		return nil, eris.Wrapf(err, "hasura store: fetch prospects %s", groupID)
	}

	prospects := make([]model.Prospect, 0, len(out.Prospects))
	for _, hp := range out.Prospects {
		created, err := model.ParseTimestamp(hp.CreatedAt)
		if err != nil {
			return nil, eris.Wrapf(err, "hasura store: prospect %s", hp.ID)
		}
		p := model.Prospect{
			ID:        hp.ID,
			GroupID:   hp.GroupID,
			Name:      deref(hp.Name),
			Phone:     deref(hp.Phone),
			CreatedAt: created,
		}
		if len(hp.Data) > 0 && string(hp.Data) != "null" {
			p.Data = hp.Data
		}
		prospects = append(prospects, p)
	}
	return prospects, nil
}

const updateProspectMutation = `
mutation UpdateProspect($id: uuid!, $name: String!) {
  update_vocallabs_prospects(where: {id: {_eq: $id}}, _set: {name: $name}) {
    affected_rows
  }
}`

func (s *HasuraStore) UpdateProspectName(ctx context.Context, id, name string) (int64, error) {
	var out struct {
		Update struct {
			AffectedRows int64 `json:"affected_rows"`
		} `json:"update_vocallabs_prospects"`
	}
	if err := s.client.Do(ctx, updateProspectMutation, map[string]any{"id": id, "name": name}, &out); err != nil {
		return 0, eris.Wrapf(err, "hasura store: update prospect %s", id)
	}
	return out.Update.AffectedRows, nil
}

const fetchCampaignsQuery = `
query FetchAutostartCampaigns {
  vocallabs_campaigns(
    where: {campaign_lock: {_eq: true}, autostart: {_eq: true}},
    order_by: [{created_at: asc}, {id: asc}]
  ) {
    id
    client_id
    start_time
    end_time
    active
    campaign_lock
    autostart
  }
}`

type hasuraCampaign struct {
	ID        string  `json:"id"`
	ClientID  *string `json:"client_id"`
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
	Active    *bool   `json:"active"`
	Locked    *bool   `json:"campaign_lock"`
	Autostart *bool   `json:"autostart"`
}

func (s *HasuraStore) FetchAutostartCampaigns(ctx context.Context) ([]model.Campaign, error) {
	var out struct {
		Campaigns []hasuraCampaign `json:"vocallabs_campaigns"`
	}
	if err := s.client.Do(ctx, fetchCampaignsQuery, nil, &out); err != nil {
		return nil, eris.Wrap(err, "hasura store: fetch campaigns")
	}

	campaigns := make([]model.Campaign, 0, len(out.Campaigns))
	for _, hc := range out.Campaigns {
		start, err := model.ParseTimestamp(deref(hc.StartTime))
		if err != nil {
			return nil, eris.Wrapf(err, "hasura store: campaign %s", hc.ID)
		}
		end, err := model.ParseTimestamp(deref(hc.EndTime))
		if err != nil {
			return nil, eris.Wrapf(err, "hasura store: campaign %s", hc.ID)
		}
		campaigns = append(campaigns, model.Campaign{
			ID:        hc.ID,
			ClientID:  deref(hc.ClientID),
			StartTime: start,
			EndTime:   end,
			Active:    deref(hc.Active),
			Locked:    deref(hc.Locked),
			Autostart: deref(hc.Autostart),
		})
	}
	return campaigns, nil
}

const updateCampaignMutation = `
mutation UpdateCampaignStatus($id: uuid!, $active: Boolean!) {
  update_vocallabs_campaigns_by_pk(pk_columns: {id: $id}, _set: {active: $active}) {
    id
  }
}`

// UpdateCampaignActive reports one affected row when the by-pk update
// returns the campaign and zero when it returns null.
func (s *HasuraStore) UpdateCampaignActive(ctx context.Context, id string, active bool) (int64, error) {
	var out struct {
		Update *struct {
			ID string `json:"id"`
		} `json:"update_vocallabs_campaigns_by_pk"`
	}
	if err := s.client.Do(ctx, updateCampaignMutation, map[string]any{"id": id, "active": active}, &out); err != nil {
		return 0, eris.Wrapf(err, "hasura store: update campaign %s", id)
	}
	if out.Update == nil {
		return 0, nil
	}
	return 1, nil
}

const fetchPromptsQuery = `
query FetchAgentPrompts($agent_id: uuid!) {
  vocallabs_agent_post_data_collections(
    where: {agent_id: {_eq: $agent_id}},
    order_by: [{created_at: asc}, {id: asc}]
  ) {
    key
    prompt
  }
}`

func (s *HasuraStore) FetchAgentPrompts(ctx context.Context, agentID string) ([]model.AgentPrompt, error) {
	var out struct {
		Prompts []model.AgentPrompt `json:"vocallabs_agent_post_data_collections"`
	}
	if err := s.client.Do(ctx, fetchPromptsQuery, map[string]any{"agent_id": agentID}, &out); err != nil {
		return nil, eris.Wrapf(err, "hasura store: fetch prompts %s", agentID)
	}
	return out.Prompts, nil
}

// callWhereExp builds a vocallabs_calls_bool_exp for the filter.
func callWhereExp(filter model.CallFilter) map[string]any {
	where := map[string]any{
		"agent_id":    map[string]any{"_eq": filter.AgentID},
		"call_status": map[string]any{"_eq": model.CallStatusCompleted},
	}
	created := map[string]any{}
	if !filter.From.IsZero() {
		created["_gte"] = filter.From.UTC().Format(timestampLayout)
	}
	if !filter.To.IsZero() {
		created["_lt"] = filter.To.UTC().Format(timestampLayout)
	}
	if len(created) > 0 {
		where["created_at"] = created
	}
	return where
}

const timestampLayout = "2006-01-02T15:04:05.999999Z07:00"

const countCallsQuery = `
query CountCalls($where: vocallabs_calls_bool_exp!) {
  vocallabs_calls_aggregate(where: $where) {
    aggregate {
      count
    }
  }
}`

func (s *HasuraStore) CountCalls(ctx context.Context, filter model.CallFilter) (int, error) {
	var out struct {
		Aggregate struct {
			Aggregate struct {
				Count int `json:"count"`
			} `json:"aggregate"`
		} `json:"vocallabs_calls_aggregate"`
	}
	if err := s.client.Do(ctx, countCallsQuery, map[string]any{"where": callWhereExp(filter)}, &out); err != nil {
		return 0, eris.Wrapf(err, "hasura store: count calls %s", filter.AgentID)
	}
	return out.Aggregate.Aggregate.Count, nil
}

const callFields = `
    id
    agent_id
    call_status
    post_call_transcript
    created_at
    call_messages(order_by: {created_at: asc}) {
      role
      content
    }`

const fetchCallsQuery = `
query FetchCalls($where: vocallabs_calls_bool_exp!, $limit: Int!, $offset: Int!) {
  vocallabs_calls(
    where: $where,
    order_by: [{created_at: asc}, {id: asc}],
    limit: $limit,
    offset: $offset
  ) {` + callFields + `
  }
}`

type hasuraCall struct {
	ID         string              `json:"id"`
	AgentID    string              `json:"agent_id"`
	Status     string              `json:"call_status"`
	Transcript *string             `json:"post_call_transcript"`
	CreatedAt  string              `json:"created_at"`
	Messages   []model.CallMessage `json:"call_messages"`
}

func (hc hasuraCall) toModel() (model.Call, error) {
	created, err := model.ParseTimestamp(hc.CreatedAt)
	if err != nil {
		return model.Call{}, eris.Wrapf(err, "hasura store: call %s", hc.ID)
	}
	return model.Call{
		ID:         hc.ID,
		AgentID:    hc.AgentID,
		Status:     hc.Status,
		Transcript: deref(hc.Transcript),
		Messages:   hc.Messages,
		CreatedAt:  created,
	}, nil
}

func (s *HasuraStore) FetchCalls(ctx context.Context, filter model.CallFilter, offset, limit int) ([]model.Call, error) {
	vars := map[string]any{
		"where":  callWhereExp(filter),
		"limit":  limit,
		"offset": offset,
	}
	var out struct {
		Calls []hasuraCall `json:"vocallabs_calls"`
	}
	if err := s.client.Do(ctx, fetchCallsQuery, vars, &out); err != nil {
		return nil, eris.Wrapf(err, "hasura store: fetch calls offset %d", offset)
	}

	calls := make([]model.Call, 0, len(out.Calls))
	for _, hc := range out.Calls {
		c, err := hc.toModel()
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, nil
}

const getCallQuery = `
query GetCompletedCall($id: uuid!, $status: String!) {
  vocallabs_calls(where: {id: {_eq: $id}, call_status: {_eq: $status}}) {` + callFields + `
  }
}`

func (s *HasuraStore) GetCompletedCall(ctx context.Context, callID string) (*model.Call, error) {
	var out struct {
		Calls []hasuraCall `json:"vocallabs_calls"`
	}
	vars := map[string]any{"id": callID, "status": model.CallStatusCompleted}
	if err := s.client.Do(ctx, getCallQuery, vars, &out); err != nil {
		return nil, eris.Wrapf(err, "hasura store: get call %s", callID)
	}
	if len(out.Calls) == 0 {
		return nil, nil
	}
	c, err := out.Calls[0].toModel()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const upsertCallDataMutation = `
mutation UpsertCallData($objects: [vocallabs_call_data_insert_input!]!) {
  insert_vocallabs_call_data(
    objects: $objects,
    on_conflict: {constraint: call_data_call_id_key_key, update_columns: [value, type]}
  ) {
    affected_rows
  }
}`

func (s *HasuraStore) UpsertCallData(ctx context.Context, entries []model.EvaluationEntry) (int64, error) {
	entries = model.DedupeEntries(entries)
	if len(entries) == 0 {
		return 0, nil
	}

	var out struct {
		Insert struct {
			AffectedRows int64 `json:"affected_rows"`
		} `json:"insert_vocallabs_call_data"`
	}
	if err := s.client.Do(ctx, upsertCallDataMutation, map[string]any{"objects": entries}, &out); err != nil {
		return 0, eris.Wrapf(err, "hasura store: upsert %d call data entries", len(entries))
	}
	return out.Insert.AffectedRows, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
