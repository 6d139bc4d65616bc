package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wavecrest/heatsync/internal/models"
)

// foreign_key_violation
const pgFKViolation = "23503"

// Publisher receives every successful remote write so the change feed can
// fan it out to other clients. A nil publisher disables notifications.
type Publisher interface {
	PublishScore(s models.Score)
	PublishConfig(c models.HeatRealtimeConfig)
}

// Postgres implements Store on a pgx pool. Upserts are keyed by identity via
// ON CONFLICT; the heat-config row carries a server-side now() stamp so a
// single remote clock orders last-writer-wins overwrites.
type Postgres struct {
	pool *pgxpool.Pool
	pub  Publisher
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS heats (
	id          TEXT PRIMARY KEY,
	competition TEXT NOT NULL DEFAULT '',
	division    TEXT NOT NULL DEFAULT '',
	round       INTEGER NOT NULL DEFAULT 0,
	number      INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'open',
	entries     JSONB NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS scores (
	id           UUID PRIMARY KEY,
	heat_id      TEXT NOT NULL REFERENCES heats(id),
	competition  TEXT NOT NULL DEFAULT '',
	division     TEXT NOT NULL DEFAULT '',
	round        INTEGER NOT NULL DEFAULT 0,
	judge_id     TEXT NOT NULL,
	judge_name   TEXT NOT NULL DEFAULT '',
	surfer       TEXT NOT NULL,
	wave         INTEGER NOT NULL,
	value        DOUBLE PRECISION NOT NULL,
	ts           TIMESTAMPTZ NOT NULL,
	persisted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_remote_scores_heat ON scores(heat_id);
CREATE TABLE IF NOT EXISTS override_logs (
	id         UUID PRIMARY KEY,
	heat_id    TEXT NOT NULL,
	score_id   UUID NOT NULL,
	judge_id   TEXT NOT NULL,
	surfer     TEXT NOT NULL,
	wave       INTEGER NOT NULL,
	prev_value DOUBLE PRECISION,
	new_value  DOUBLE PRECISION NOT NULL,
	reason     TEXT NOT NULL,
	comment    TEXT NOT NULL DEFAULT '',
	actor      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_remote_override_logs_heat ON override_logs(heat_id);
CREATE TABLE IF NOT EXISTS heat_configs (
	heat_id           TEXT PRIMARY KEY,
	status            TEXT NOT NULL,
	timer_started_at  TIMESTAMPTZ,
	timer_duration_ms BIGINT NOT NULL DEFAULT 0,
	snapshot          JSONB,
	last_writer       TEXT NOT NULL DEFAULT '',
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// NewPostgres connects the pool and applies the schema.
func NewPostgres(ctx context.Context, dsn string, pub Publisher) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply remote schema: %w", err)
	}
	return &Postgres{pool: pool, pub: pub}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// classify maps driver errors onto the contract's taxonomy.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgFKViolation {
		return fmt.Errorf("%w: %v", ErrHeatNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (p *Postgres) UpsertScore(ctx context.Context, s models.Score) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO scores (id, heat_id, competition, division, round, judge_id,
			judge_name, surfer, wave, value, ts, persisted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET value = EXCLUDED.value, ts = EXCLUDED.ts`,
		s.ID, models.NormalizeHeatID(s.HeatID), s.Competition, s.Division, s.Round,
		s.JudgeID, s.JudgeName, s.Surfer, s.Wave, s.Value, s.Timestamp, s.PersistedAt)
	if err != nil {
		return classify(err)
	}
	if p.pub != nil {
		p.pub.PublishScore(s)
	}
	return nil
}

func (p *Postgres) ScoresByHeat(ctx context.Context, heatID string) ([]models.Score, error) {
	return p.ScoresByHeats(ctx, []string{heatID})
}

func (p *Postgres) ScoresByHeats(ctx context.Context, heatIDs []string) ([]models.Score, error) {
	keys := make([]string, 0, 2*len(heatIDs))
	for _, id := range heatIDs {
		// Tolerate legacy non-normalized ids on read.
		keys = append(keys, id, models.NormalizeHeatID(id))
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, heat_id, competition, division, round, judge_id, judge_name,
			surfer, wave, value, ts, persisted_at
		FROM scores WHERE heat_id = ANY($1) ORDER BY ts`, keys)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []models.Score
	for rows.Next() {
		var s models.Score
		if err := rows.Scan(&s.ID, &s.HeatID, &s.Competition, &s.Division, &s.Round,
			&s.JudgeID, &s.JudgeName, &s.Surfer, &s.Wave, &s.Value,
			&s.Timestamp, &s.PersistedAt); err != nil {
			return nil, classify(err)
		}
		s.Synced = true
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (p *Postgres) UpsertOverride(ctx context.Context, o models.OverrideLog) error {
	prev := o.PreviousValue
	_, err := p.pool.Exec(ctx, `
		INSERT INTO override_logs (id, heat_id, score_id, judge_id, surfer, wave,
			prev_value, new_value, reason, comment, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, models.NormalizeHeatID(o.HeatID), o.ScoreID, o.JudgeID, o.Surfer,
		o.Wave, prev, o.NewValue, string(o.Reason), o.Comment, o.Actor, o.CreatedAt)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (p *Postgres) OverridesByHeat(ctx context.Context, heatID string) ([]models.OverrideLog, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, heat_id, score_id, judge_id, surfer, wave, prev_value,
			new_value, reason, comment, actor, created_at
		FROM override_logs WHERE heat_id = ANY($1) ORDER BY created_at DESC`,
		[]string{heatID, models.NormalizeHeatID(heatID)})
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []models.OverrideLog
	for rows.Next() {
		var (
			o      models.OverrideLog
			reason string
		)
		if err := rows.Scan(&o.ID, &o.HeatID, &o.ScoreID, &o.JudgeID, &o.Surfer,
			&o.Wave, &o.PreviousValue, &o.NewValue, &reason, &o.Comment,
			&o.Actor, &o.CreatedAt); err != nil {
			return nil, classify(err)
		}
		o.Reason = models.OverrideReason(reason)
		o.Synced = true
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (p *Postgres) UpsertHeat(ctx context.Context, h models.Heat) error {
	entries, err := json.Marshal(h.Entries)
	if err != nil {
		return fmt.Errorf("marshal heat entries: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO heats (id, competition, division, round, number, status, entries)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status,
			entries = EXCLUDED.entries`,
		models.NormalizeHeatID(h.ID), h.Competition, h.Division, h.Round,
		h.Number, string(h.Status), entries)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (p *Postgres) Heat(ctx context.Context, heatID string) (*models.Heat, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, competition, division, round, number, status, entries
		FROM heats WHERE id = ANY($1) LIMIT 1`,
		[]string{heatID, models.NormalizeHeatID(heatID)})
	h, err := scanHeat(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("heat %q: %w", heatID, ErrHeatNotFound)
		}
		return nil, classify(err)
	}
	return h, nil
}

func (p *Postgres) HeatsByDivision(ctx context.Context, competition, division string) ([]models.Heat, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, competition, division, round, number, status, entries
		FROM heats WHERE competition = $1 AND division = $2
		ORDER BY round, number`, competition, division)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []models.Heat
	for rows.Next() {
		h, err := scanHeat(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (p *Postgres) ReplaceHeatEntries(ctx context.Context, heatID string, entries []models.HeatEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal heat entries: %w", err)
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE heats SET entries = $2 WHERE id = ANY($1)`,
		[]string{heatID, models.NormalizeHeatID(heatID)}, data)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("heat %q: %w", heatID, ErrHeatNotFound)
	}
	return nil
}

func (p *Postgres) UpsertHeatConfig(ctx context.Context, c models.HeatRealtimeConfig) (models.HeatRealtimeConfig, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO heat_configs (heat_id, status, timer_started_at,
			timer_duration_ms, snapshot, last_writer, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (heat_id) DO UPDATE SET status = EXCLUDED.status,
			timer_started_at = EXCLUDED.timer_started_at,
			timer_duration_ms = EXCLUDED.timer_duration_ms,
			snapshot = EXCLUDED.snapshot,
			last_writer = EXCLUDED.last_writer,
			updated_at = now()
		RETURNING updated_at`,
		models.NormalizeHeatID(c.HeatID), string(c.Status), c.TimerStartedAt,
		c.TimerDuration.Milliseconds(), []byte(c.Snapshot), c.LastWriter)

	var updatedAt time.Time
	if err := row.Scan(&updatedAt); err != nil {
		return models.HeatRealtimeConfig{}, classify(err)
	}
	c.UpdatedAt = updatedAt
	if p.pub != nil {
		p.pub.PublishConfig(c)
	}
	return c, nil
}

func (p *Postgres) HeatConfig(ctx context.Context, heatID string) (*models.HeatRealtimeConfig, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT heat_id, status, timer_started_at, timer_duration_ms, snapshot,
			last_writer, updated_at
		FROM heat_configs WHERE heat_id = $1`, models.NormalizeHeatID(heatID))

	var (
		c          models.HeatRealtimeConfig
		status     string
		durationMS int64
		snapshot   []byte
	)
	err := row.Scan(&c.HeatID, &status, &c.TimerStartedAt, &durationMS,
		&snapshot, &c.LastWriter, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	c.Status = models.TimerStatus(status)
	c.TimerDuration = time.Duration(durationMS) * time.Millisecond
	c.Snapshot = snapshot
	return &c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHeat(row rowScanner) (*models.Heat, error) {
	var (
		h       models.Heat
		status  string
		entries []byte
	)
	if err := row.Scan(&h.ID, &h.Competition, &h.Division, &h.Round, &h.Number,
		&status, &entries); err != nil {
		return nil, err
	}
	h.Status = models.HeatStatus(status)
	if err := json.Unmarshal(entries, &h.Entries); err != nil {
		log.Warn().Err(err).Str("heat_id", h.ID).Msg("malformed heat entries payload")
		h.Entries = nil
	}
	return &h, nil
}
