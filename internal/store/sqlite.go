package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/vocallabs/llm-batch/internal/model"
)

// sqliteTimeFormat is fixed-width so string comparison orders timestamps.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements Store using modernc.org/sqlite. It mirrors the
// vocallabs tables for local runs and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS prospects (
	id                TEXT PRIMARY KEY,
	prospect_group_id TEXT NOT NULL,
	name              TEXT,
	phone             TEXT,
	data              TEXT,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS campaigns (
	id            TEXT PRIMARY KEY,
	client_id     TEXT,
	start_time    TEXT,
	end_time      TEXT,
	active        INTEGER NOT NULL DEFAULT 0,
	campaign_lock INTEGER NOT NULL DEFAULT 0,
	autostart     INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_post_data_collections (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	key        TEXT NOT NULL,
	prompt     TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS calls (
	id                   TEXT PRIMARY KEY,
	agent_id             TEXT NOT NULL,
	call_status          TEXT NOT NULL,
	post_call_transcript TEXT,
	created_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS call_messages (
	id         TEXT PRIMARY KEY,
	call_id    TEXT NOT NULL REFERENCES calls(id),
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS call_data (
	id         TEXT PRIMARY KEY,
	call_id    TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT 'external',
	created_at TEXT NOT NULL,
	UNIQUE (call_id, key)
);

CREATE INDEX IF NOT EXISTS idx_prospects_group ON prospects(prospect_group_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_calls_agent_created ON calls(agent_id, call_status, created_at, id);
CREATE INDEX IF NOT EXISTS idx_call_messages_call ON call_messages(call_id, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FetchProspects(ctx context.Context, groupID string) ([]model.Prospect, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prospect_group_id, COALESCE(name, ''), COALESCE(phone, ''), data, created_at
		 FROM prospects WHERE prospect_group_id = ? ORDER BY created_at, id`,
		groupID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: fetch prospects %s", groupID)
	}
	defer rows.Close()

	var out []model.Prospect
	for rows.Next() {
		var p model.Prospect
		var data sql.NullString
		var created string
		if err := rows.Scan(&p.ID, &p.GroupID, &p.Name, &p.Phone, &data, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prospect")
		}
		if data.Valid && data.String != "" {
			p.Data = json.RawMessage(data.String)
		}
		if p.CreatedAt, err = model.ParseTimestamp(created); err != nil {
			return nil, eris.Wrapf(err, "sqlite: prospect %s", p.ID)
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: fetch prospects iterate")
}

func (s *SQLiteStore) UpdateProspectName(ctx context.Context, id, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE prospects SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: update prospect %s", id)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) FetchAutostartCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(client_id, ''), COALESCE(start_time, ''), COALESCE(end_time, ''), active, campaign_lock, autostart
		 FROM campaigns WHERE campaign_lock = 1 AND autostart = 1 ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch campaigns")
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		var c model.Campaign
		var start, end string
		if err := rows.Scan(&c.ID, &c.ClientID, &start, &end, &c.Active, &c.Locked, &c.Autostart); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan campaign")
		}
		if c.StartTime, err = model.ParseTimestamp(start); err != nil {
			return nil, eris.Wrapf(err, "sqlite: campaign %s", c.ID)
		}
		if c.EndTime, err = model.ParseTimestamp(end); err != nil {
			return nil, eris.Wrapf(err, "sqlite: campaign %s", c.ID)
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: fetch campaigns iterate")
}

func (s *SQLiteStore) UpdateCampaignActive(ctx context.Context, id string, active bool) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE campaigns SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: update campaign %s", id)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) FetchAgentPrompts(ctx context.Context, agentID string) ([]model.AgentPrompt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, prompt FROM agent_post_data_collections WHERE agent_id = ? ORDER BY created_at, id`,
		agentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: fetch prompts %s", agentID)
	}
	defer rows.Close()

	var out []model.AgentPrompt
	for rows.Next() {
		var p model.AgentPrompt
		if err := rows.Scan(&p.Key, &p.Prompt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prompt")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: fetch prompts iterate")
}

func sqliteCallWhere(filter model.CallFilter) (string, []any) {
	where := `agent_id = ? AND call_status = ?`
	args := []any{filter.AgentID, model.CallStatusCompleted}
	if !filter.From.IsZero() {
		where += ` AND created_at >= ?`
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		where += ` AND created_at < ?`
		args = append(args, formatTime(filter.To))
	}
	return where, args
}

func (s *SQLiteStore) CountCalls(ctx context.Context, filter model.CallFilter) (int, error) {
	where, args := sqliteCallWhere(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM calls WHERE `+where, args...).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "sqlite: count calls %s", filter.AgentID)
	}
	return n, nil
}

func (s *SQLiteStore) FetchCalls(ctx context.Context, filter model.CallFilter, offset, limit int) ([]model.Call, error) {
	where, args := sqliteCallWhere(filter)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, call_status, COALESCE(post_call_transcript, ''), created_at
		 FROM calls WHERE `+where+` ORDER BY created_at, id LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: fetch calls offset %d", offset)
	}

	var out []model.Call
	for rows.Next() {
		c, err := scanSQLiteCall(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, eris.Wrap(err, "sqlite: fetch calls iterate")
	}
	rows.Close()

	if err := s.attachMessages(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) GetCompletedCall(ctx context.Context, callID string) (*model.Call, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, call_status, COALESCE(post_call_transcript, ''), created_at
		 FROM calls WHERE id = ? AND call_status = ?`,
		callID, model.CallStatusCompleted,
	)
	c, err := scanSQLiteCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get call %s", callID)
	}

	calls := []model.Call{*c}
	if err := s.attachMessages(ctx, calls); err != nil {
		return nil, err
	}
	return &calls[0], nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCall(row rowScanner) (*model.Call, error) {
	var c model.Call
	var created string
	if err := row.Scan(&c.ID, &c.AgentID, &c.Status, &c.Transcript, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan call")
	}
	t, err := model.ParseTimestamp(created)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: call %s", c.ID)
	}
	c.CreatedAt = t
	return &c, nil
}

// attachMessages loads the messages of calls in one query.
func (s *SQLiteStore) attachMessages(ctx context.Context, calls []model.Call) error {
	if len(calls) == 0 {
		return nil
	}

	idx := make(map[string]int, len(calls))
	placeholders := make([]string, len(calls))
	args := make([]any, len(calls))
	for i, c := range calls {
		idx[c.ID] = i
		placeholders[i] = "?"
		args[i] = c.ID
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT call_id, role, content FROM call_messages
		 WHERE call_id IN (`+strings.Join(placeholders, ", ")+`) ORDER BY call_id, created_at, id`,
		args...,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: fetch call messages")
	}
	defer rows.Close()

	for rows.Next() {
		var callID string
		var m model.CallMessage
		if err := rows.Scan(&callID, &m.Role, &m.Content); err != nil {
			return eris.Wrap(err, "sqlite: scan call message")
		}
		i := idx[callID]
		calls[i].Messages = append(calls[i].Messages, m)
	}
	return eris.Wrap(rows.Err(), "sqlite: fetch call messages iterate")
}

func (s *SQLiteStore) UpsertCallData(ctx context.Context, entries []model.EvaluationEntry) (int64, error) {
	entries = model.DedupeEntries(entries)
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert call data: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO call_data (id, call_id, key, value, type, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (call_id, key) DO UPDATE SET value = excluded.value, type = excluded.type`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert call data: prepare")
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	var total int64
	for _, e := range entries {
		res, err := stmt.ExecContext(ctx, uuid.NewString(), e.CallID, e.Key, e.Value, e.Kind, now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert call data %s/%s", e.CallID, e.Key)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert call data: commit")
	}
	return total, nil
}
