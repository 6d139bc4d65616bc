// Package remote defines the contract the core holds against the shared
// remote store. The engine depends only on these interfaces, never on a
// specific backend; adapters live in this package (postgres + NATS) and an
// in-memory implementation backs tests and fully-offline operation.
package remote

import (
	"context"
	"errors"

	"github.com/wavecrest/heatsync/internal/models"
)

var (
	// ErrUnavailable wraps any connectivity-class failure. Callers treat it
	// as non-fatal: the write stays pending locally and the sync engine
	// retries on the next online transition.
	ErrUnavailable = errors.New("remote: store unavailable")

	// ErrHeatNotFound is returned by heat lookups with no matching row.
	ErrHeatNotFound = errors.New("remote: heat not found")
)

// Store is the remote persistence contract. All upserts are keyed by
// identity (not logical key), so replaying the same row is harmless.
type Store interface {
	UpsertScore(ctx context.Context, s models.Score) error
	ScoresByHeat(ctx context.Context, heatID string) ([]models.Score, error)
	// ScoresByHeats is the batch in-filter read used for competition-wide
	// fetches and the ranking path.
	ScoresByHeats(ctx context.Context, heatIDs []string) ([]models.Score, error)

	UpsertOverride(ctx context.Context, o models.OverrideLog) error
	OverridesByHeat(ctx context.Context, heatID string) ([]models.OverrideLog, error)

	UpsertHeat(ctx context.Context, h models.Heat) error
	Heat(ctx context.Context, heatID string) (*models.Heat, error)
	HeatsByDivision(ctx context.Context, competition, division string) ([]models.Heat, error)
	// ReplaceHeatEntries swaps a heat's slot assignments atomically, as one
	// replace-entries operation per target heat.
	ReplaceHeatEntries(ctx context.Context, heatID string, entries []models.HeatEntry) error

	// UpsertHeatConfig overwrites the single shared record for the heat
	// (last writer wins) and returns the stored row with the authoritative
	// updated_at stamp.
	UpsertHeatConfig(ctx context.Context, c models.HeatRealtimeConfig) (models.HeatRealtimeConfig, error)
	HeatConfig(ctx context.Context, heatID string) (*models.HeatRealtimeConfig, error)
}

// Unsubscribe releases a change subscription. It is the sole cleanup hook
// for the subscription and is safe to call more than once.
type Unsubscribe func()

// ChangeFeed delivers insert/update notifications filtered by heat id.
// Subscribers must pull a snapshot through Store before relying on pushes.
type ChangeFeed interface {
	SubscribeScores(ctx context.Context, heatID string, fn func(models.Score)) (Unsubscribe, error)
	SubscribeConfig(ctx context.Context, heatID string, fn func(models.HeatRealtimeConfig)) (Unsubscribe, error)
}
