package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/vocallabs/llm-batch/internal/db"
	"github.com/vocallabs/llm-batch/internal/model"
)

// PostgresStore implements Store on the vocallabs schema using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS vocallabs;

CREATE TABLE IF NOT EXISTS vocallabs.prospects (
	id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	prospect_group_id UUID NOT NULL,
	name              TEXT,
	phone             TEXT,
	data              JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vocallabs.campaigns (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	client_id     UUID,
	start_time    TIMESTAMPTZ,
	end_time      TIMESTAMPTZ,
	active        BOOLEAN NOT NULL DEFAULT false,
	campaign_lock BOOLEAN NOT NULL DEFAULT false,
	autostart     BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vocallabs.agent_post_data_collections (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	agent_id   UUID NOT NULL,
	key        TEXT NOT NULL,
	prompt     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vocallabs.calls (
	id                   UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	agent_id             UUID NOT NULL,
	call_status          TEXT NOT NULL,
	post_call_transcript TEXT,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vocallabs.call_messages (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	call_id    UUID NOT NULL REFERENCES vocallabs.calls(id),
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vocallabs.call_data (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	call_id    UUID NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT 'external',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT call_data_call_id_key_key UNIQUE (call_id, key)
);

CREATE INDEX IF NOT EXISTS idx_prospects_group ON vocallabs.prospects(prospect_group_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_campaigns_autostart ON vocallabs.campaigns(campaign_lock, autostart);
CREATE INDEX IF NOT EXISTS idx_agent_prompts_agent ON vocallabs.agent_post_data_collections(agent_id);
CREATE INDEX IF NOT EXISTS idx_calls_agent_created ON vocallabs.calls(agent_id, call_status, created_at, id);
CREATE INDEX IF NOT EXISTS idx_call_messages_call ON vocallabs.call_messages(call_id, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) FetchProspects(ctx context.Context, groupID string) ([]model.Prospect, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, prospect_group_id::text, COALESCE(name, ''), COALESCE(phone, ''), data, created_at
		 FROM vocallabs.prospects WHERE prospect_group_id = $1 ORDER BY created_at, id`,
		groupID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: fetch prospects %s", groupID)
	}
	defer rows.Close()

	var out []model.Prospect
	for rows.Next() {
		var p model.Prospect
		var data []byte
		if err := rows.Scan(&p.ID, &p.GroupID, &p.Name, &p.Phone, &data, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan prospect")
		}
		if len(data) > 0 {
			p.Data = json.RawMessage(data)
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: fetch prospects iterate")
}

func (s *PostgresStore) UpdateProspectName(ctx context.Context, id, name string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vocallabs.prospects SET name = $1 WHERE id = $2`,
		name, id,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: update prospect %s", id)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) FetchAutostartCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, COALESCE(client_id::text, ''), start_time, end_time, active, campaign_lock, autostart
		 FROM vocallabs.campaigns WHERE campaign_lock AND autostart ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch campaigns")
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		var c model.Campaign
		var start, end *time.Time
		if err := rows.Scan(&c.ID, &c.ClientID, &start, &end, &c.Active, &c.Locked, &c.Autostart); err != nil {
			return nil, eris.Wrap(err, "postgres: scan campaign")
		}
		if start != nil {
			c.StartTime = start.UTC()
		}
		if end != nil {
			c.EndTime = end.UTC()
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: fetch campaigns iterate")
}

func (s *PostgresStore) UpdateCampaignActive(ctx context.Context, id string, active bool) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vocallabs.campaigns SET active = $1 WHERE id = $2`,
		active, id,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: update campaign %s", id)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) FetchAgentPrompts(ctx context.Context, agentID string) ([]model.AgentPrompt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, prompt FROM vocallabs.agent_post_data_collections
		 WHERE agent_id = $1 ORDER BY created_at, id`,
		agentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: fetch prompts %s", agentID)
	}
	defer rows.Close()

	var out []model.AgentPrompt
	for rows.Next() {
		var p model.AgentPrompt
		if err := rows.Scan(&p.Key, &p.Prompt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan prompt")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: fetch prompts iterate")
}

// callWhere builds the WHERE clause for completed calls matching filter.
func callWhere(filter model.CallFilter) (string, []any) {
	where := `c.agent_id = $1 AND c.call_status = $2`
	args := []any{filter.AgentID, model.CallStatusCompleted}
	if !filter.From.IsZero() {
		args = append(args, filter.From.UTC())
		where += fmt.Sprintf(` AND c.created_at >= $%d`, len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UTC())
		where += fmt.Sprintf(` AND c.created_at < $%d`, len(args))
	}
	return where, args
}

func (s *PostgresStore) CountCalls(ctx context.Context, filter model.CallFilter) (int, error) {
	where, args := callWhere(filter)
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM vocallabs.calls c WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count calls %s", filter.AgentID)
	}
	return n, nil
}

const callColumns = `c.id::text, c.agent_id::text, c.call_status, COALESCE(c.post_call_transcript, ''), c.created_at,
	COALESCE((SELECT json_agg(json_build_object('role', m.role, 'content', m.content) ORDER BY m.created_at, m.id)
	          FROM vocallabs.call_messages m WHERE m.call_id = c.id), '[]'::json)`

func (s *PostgresStore) FetchCalls(ctx context.Context, filter model.CallFilter, offset, limit int) ([]model.Call, error) {
	where, args := callWhere(filter)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM vocallabs.calls c WHERE %s ORDER BY c.created_at, c.id LIMIT $%d OFFSET $%d`,
		callColumns, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: fetch calls offset %d", offset)
	}
	defer rows.Close()

	var out []model.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: fetch calls iterate")
}

func (s *PostgresStore) GetCompletedCall(ctx context.Context, callID string) (*model.Call, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+callColumns+` FROM vocallabs.calls c WHERE c.id = $1 AND c.call_status = $2`,
		callID, model.CallStatusCompleted,
	)
	c, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get call %s", callID)
	}
	return c, nil
}

func scanCall(row pgx.Row) (*model.Call, error) {
	var c model.Call
	var messages []byte
	if err := row.Scan(&c.ID, &c.AgentID, &c.Status, &c.Transcript, &c.CreatedAt, &messages); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan call")
	}
	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &c.Messages); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode messages of call %s", c.ID)
		}
	}
	return &c, nil
}

var callDataUpsert = db.UpsertConfig{
	Table:        "vocallabs.call_data",
	Columns:      []string{"call_id", "key", "value", "type"},
	ConflictKeys: []string{"call_id", "key"},
	UpdateCols:   []string{"value", "type"},
}

func (s *PostgresStore) UpsertCallData(ctx context.Context, entries []model.EvaluationEntry) (int64, error) {
	entries = model.DedupeEntries(entries)
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.CallID, e.Key, e.Value, e.Kind}
	}

	n, err := db.BulkUpsert(ctx, s.pool, callDataUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert call data")
	}
	return n, nil
}
