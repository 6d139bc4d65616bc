// Package store persists scores, override logs and heat-config snapshots
// on-device across process restarts. Two substrates are supported in a
// dual-write arrangement: sqlite as the structured, indexed primary and a
// flat JSONL directory as fallback for environments where sqlite is
// unavailable. Callers always go through the Store interface; nothing in the
// core special-cases which backend is active.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wavecrest/heatsync/internal/models"
)

// Store is the local durable store contract. Writes are append-only for
// scores and override logs: no record is ever physically deleted by normal
// operation, only marked synced.
type Store interface {
	PutScore(ctx context.Context, s models.Score) error
	ScoresByHeat(ctx context.Context, heatID string) ([]models.Score, error)
	ScoresByHeats(ctx context.Context, heatIDs []string) ([]models.Score, error)
	UnsyncedScores(ctx context.Context) ([]models.Score, error)
	MarkScoreSynced(ctx context.Context, id uuid.UUID) error

	PutOverride(ctx context.Context, o models.OverrideLog) error
	OverridesByHeat(ctx context.Context, heatID string) ([]models.OverrideLog, error)
	UnsyncedOverrides(ctx context.Context) ([]models.OverrideLog, error)
	MarkOverrideSynced(ctx context.Context, id uuid.UUID) error

	PutHeatConfig(ctx context.Context, c models.HeatRealtimeConfig) error
	HeatConfig(ctx context.Context, heatID string) (*models.HeatRealtimeConfig, error)

	Close() error
}

// Config selects the substrate locations.
type Config struct {
	SQLitePath  string // e.g. ./data/heatsync.db; empty disables sqlite
	FallbackDir string // e.g. ./data/fallback; empty disables the JSONL fallback
}

// Open probes the configured substrates and returns the best available
// arrangement: dual-write when both open, single otherwise. Opening fails
// only when no substrate at all is usable.
func Open(cfg Config) (Store, error) {
	var primary, secondary Store

	if cfg.SQLitePath != "" {
		s, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.SQLitePath).
				Msg("sqlite substrate unavailable, falling back")
		} else {
			primary = s
		}
	}
	if cfg.FallbackDir != "" {
		f, err := OpenJSONL(cfg.FallbackDir)
		if err != nil {
			log.Warn().Err(err).Str("dir", cfg.FallbackDir).
				Msg("jsonl substrate unavailable")
		} else {
			secondary = f
		}
	}

	switch {
	case primary != nil && secondary != nil:
		return NewDual(primary, secondary), nil
	case primary != nil:
		return primary, nil
	case secondary != nil:
		return secondary, nil
	default:
		return nil, ErrNoSubstrate
	}
}
