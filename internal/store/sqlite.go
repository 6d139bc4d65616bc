package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/wavecrest/heatsync/internal/models"
)

const timeLayout = time.RFC3339Nano

// schema is applied on every open; statements are idempotent. The scores and
// override_logs tables are append-only: the only UPDATE ever issued flips
// the synced flag.
const schema = `
CREATE TABLE IF NOT EXISTS scores (
	id           TEXT PRIMARY KEY,
	heat_id      TEXT NOT NULL,
	heat_key     TEXT NOT NULL,
	competition  TEXT NOT NULL DEFAULT '',
	division     TEXT NOT NULL DEFAULT '',
	round        INTEGER NOT NULL DEFAULT 0,
	judge_id     TEXT NOT NULL,
	judge_name   TEXT NOT NULL DEFAULT '',
	surfer       TEXT NOT NULL,
	wave         INTEGER NOT NULL,
	value        REAL NOT NULL,
	ts           TEXT NOT NULL,
	persisted_at TEXT NOT NULL,
	synced       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_scores_heat_key ON scores(heat_key);
CREATE INDEX IF NOT EXISTS idx_scores_unsynced ON scores(synced) WHERE synced = 0;

CREATE TABLE IF NOT EXISTS override_logs (
	id         TEXT PRIMARY KEY,
	heat_id    TEXT NOT NULL,
	heat_key   TEXT NOT NULL,
	score_id   TEXT NOT NULL,
	judge_id   TEXT NOT NULL,
	surfer     TEXT NOT NULL,
	wave       INTEGER NOT NULL,
	prev_value REAL,
	new_value  REAL NOT NULL,
	reason     TEXT NOT NULL,
	comment    TEXT NOT NULL DEFAULT '',
	actor      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	synced     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_override_logs_heat_key ON override_logs(heat_key);
CREATE INDEX IF NOT EXISTS idx_override_logs_unsynced ON override_logs(synced) WHERE synced = 0;

CREATE TABLE IF NOT EXISTS heat_configs (
	heat_key   TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLite is the structured, indexed local substrate.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path with WAL journaling and
// applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) PutScore(ctx context.Context, sc models.Score) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scores (id, heat_id, heat_key, competition, division, round,
			judge_id, judge_name, surfer, wave, value, ts, persisted_at, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID.String(), sc.HeatID, models.NormalizeHeatID(sc.HeatID),
		sc.Competition, sc.Division, sc.Round,
		sc.JudgeID, sc.JudgeName, sc.Surfer, sc.Wave, sc.Value,
		sc.Timestamp.UTC().Format(timeLayout),
		sc.PersistedAt.UTC().Format(timeLayout),
		boolToInt(sc.Synced))
	if err != nil {
		return fmt.Errorf("insert score: %w", err)
	}
	return nil
}

func (s *SQLite) ScoresByHeat(ctx context.Context, heatID string) ([]models.Score, error) {
	return s.ScoresByHeats(ctx, []string{heatID})
}

func (s *SQLite) ScoresByHeats(ctx context.Context, heatIDs []string) ([]models.Score, error) {
	if len(heatIDs) == 0 {
		return nil, nil
	}
	query := `SELECT id, heat_id, competition, division, round, judge_id, judge_name,
		surfer, wave, value, ts, persisted_at, synced FROM scores WHERE heat_key IN (`
	args := make([]any, 0, len(heatIDs))
	for i, id := range heatIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, models.NormalizeHeatID(id))
	}
	query += `) ORDER BY rowid`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()
	return scanScores(rows)
}

func (s *SQLite) UnsyncedScores(ctx context.Context) ([]models.Score, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, heat_id, competition, division,
		round, judge_id, judge_name, surfer, wave, value, ts, persisted_at, synced
		FROM scores WHERE synced = 0 ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query unsynced scores: %w", err)
	}
	defer rows.Close()
	return scanScores(rows)
}

func (s *SQLite) MarkScoreSynced(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE scores SET synced = 1 WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("mark score synced: %w", err)
	}
	return nil
}

func (s *SQLite) PutOverride(ctx context.Context, o models.OverrideLog) error {
	var prev any
	if o.PreviousValue != nil {
		prev = *o.PreviousValue
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO override_logs (id, heat_id, heat_key, score_id, judge_id, surfer,
			wave, prev_value, new_value, reason, comment, actor, created_at, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.HeatID, models.NormalizeHeatID(o.HeatID), o.ScoreID.String(),
		o.JudgeID, o.Surfer, o.Wave, prev, o.NewValue, string(o.Reason),
		o.Comment, o.Actor, o.CreatedAt.UTC().Format(timeLayout), boolToInt(o.Synced))
	if err != nil {
		return fmt.Errorf("insert override log: %w", err)
	}
	return nil
}

func (s *SQLite) OverridesByHeat(ctx context.Context, heatID string) ([]models.OverrideLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, heat_id, score_id, judge_id, surfer,
		wave, prev_value, new_value, reason, comment, actor, created_at, synced
		FROM override_logs WHERE heat_key = ? ORDER BY rowid`,
		models.NormalizeHeatID(heatID))
	if err != nil {
		return nil, fmt.Errorf("query override logs: %w", err)
	}
	defer rows.Close()
	return scanOverrides(rows)
}

func (s *SQLite) UnsyncedOverrides(ctx context.Context) ([]models.OverrideLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, heat_id, score_id, judge_id, surfer,
		wave, prev_value, new_value, reason, comment, actor, created_at, synced
		FROM override_logs WHERE synced = 0 ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query unsynced override logs: %w", err)
	}
	defer rows.Close()
	return scanOverrides(rows)
}

func (s *SQLite) MarkOverrideSynced(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE override_logs SET synced = 1 WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("mark override synced: %w", err)
	}
	return nil
}

func (s *SQLite) PutHeatConfig(ctx context.Context, c models.HeatRealtimeConfig) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal heat config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO heat_configs (heat_key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(heat_key) DO UPDATE SET payload = excluded.payload,
			updated_at = excluded.updated_at`,
		models.NormalizeHeatID(c.HeatID), string(payload),
		c.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert heat config: %w", err)
	}
	return nil
}

func (s *SQLite) HeatConfig(ctx context.Context, heatID string) (*models.HeatRealtimeConfig, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM heat_configs WHERE heat_key = ?`,
		models.NormalizeHeatID(heatID)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query heat config: %w", err)
	}
	var cfg models.HeatRealtimeConfig
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal heat config: %w", err)
	}
	return &cfg, nil
}

func scanScores(rows *sql.Rows) ([]models.Score, error) {
	var out []models.Score
	for rows.Next() {
		var (
			sc               models.Score
			id, ts, persisted string
			synced           int
		)
		if err := rows.Scan(&id, &sc.HeatID, &sc.Competition, &sc.Division, &sc.Round,
			&sc.JudgeID, &sc.JudgeName, &sc.Surfer, &sc.Wave, &sc.Value,
			&ts, &persisted, &synced); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse score id: %w", err)
		}
		sc.ID = parsed
		if sc.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("parse score timestamp: %w", err)
		}
		if sc.PersistedAt, err = time.Parse(timeLayout, persisted); err != nil {
			return nil, fmt.Errorf("parse score persisted_at: %w", err)
		}
		sc.Synced = synced != 0
		out = append(out, sc)
	}
	return out, rows.Err()
}

func scanOverrides(rows *sql.Rows) ([]models.OverrideLog, error) {
	var out []models.OverrideLog
	for rows.Next() {
		var (
			o                models.OverrideLog
			id, scoreID, created string
			prev             sql.NullFloat64
			reason           string
			synced           int
		)
		if err := rows.Scan(&id, &o.HeatID, &scoreID, &o.JudgeID, &o.Surfer, &o.Wave,
			&prev, &o.NewValue, &reason, &o.Comment, &o.Actor, &created, &synced); err != nil {
			return nil, fmt.Errorf("scan override log: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse override id: %w", err)
		}
		o.ID = parsed
		if o.ScoreID, err = uuid.Parse(scoreID); err != nil {
			return nil, fmt.Errorf("parse override score id: %w", err)
		}
		if prev.Valid {
			v := prev.Float64
			o.PreviousValue = &v
		}
		o.Reason = models.OverrideReason(reason)
		if o.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse override created_at: %w", err)
		}
		o.Synced = synced != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
