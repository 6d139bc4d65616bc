package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wavecrest/heatsync/internal/models"
)

// Dual writes through to both substrates and reads from the primary. A
// secondary write failure never fails the caller; it is logged and dropped
// (the secondary is a crash fallback, not a second source of truth).
type Dual struct {
	primary   Store
	secondary Store
}

func NewDual(primary, secondary Store) *Dual {
	return &Dual{primary: primary, secondary: secondary}
}

func (d *Dual) secondaryErr(op string, err error) {
	if err != nil {
		log.Debug().Err(err).Str("op", op).Msg("secondary substrate write failed")
	}
}

func (d *Dual) PutScore(ctx context.Context, s models.Score) error {
	if err := d.primary.PutScore(ctx, s); err != nil {
		return err
	}
	d.secondaryErr("put_score", d.secondary.PutScore(ctx, s))
	return nil
}

func (d *Dual) ScoresByHeat(ctx context.Context, heatID string) ([]models.Score, error) {
	return d.primary.ScoresByHeat(ctx, heatID)
}

func (d *Dual) ScoresByHeats(ctx context.Context, heatIDs []string) ([]models.Score, error) {
	return d.primary.ScoresByHeats(ctx, heatIDs)
}

func (d *Dual) UnsyncedScores(ctx context.Context) ([]models.Score, error) {
	return d.primary.UnsyncedScores(ctx)
}

func (d *Dual) MarkScoreSynced(ctx context.Context, id uuid.UUID) error {
	if err := d.primary.MarkScoreSynced(ctx, id); err != nil {
		return err
	}
	d.secondaryErr("mark_score_synced", d.secondary.MarkScoreSynced(ctx, id))
	return nil
}

func (d *Dual) PutOverride(ctx context.Context, o models.OverrideLog) error {
	if err := d.primary.PutOverride(ctx, o); err != nil {
		return err
	}
	d.secondaryErr("put_override", d.secondary.PutOverride(ctx, o))
	return nil
}

func (d *Dual) OverridesByHeat(ctx context.Context, heatID string) ([]models.OverrideLog, error) {
	return d.primary.OverridesByHeat(ctx, heatID)
}

func (d *Dual) UnsyncedOverrides(ctx context.Context) ([]models.OverrideLog, error) {
	return d.primary.UnsyncedOverrides(ctx)
}

func (d *Dual) MarkOverrideSynced(ctx context.Context, id uuid.UUID) error {
	if err := d.primary.MarkOverrideSynced(ctx, id); err != nil {
		return err
	}
	d.secondaryErr("mark_override_synced", d.secondary.MarkOverrideSynced(ctx, id))
	return nil
}

func (d *Dual) PutHeatConfig(ctx context.Context, c models.HeatRealtimeConfig) error {
	if err := d.primary.PutHeatConfig(ctx, c); err != nil {
		return err
	}
	d.secondaryErr("put_heat_config", d.secondary.PutHeatConfig(ctx, c))
	return nil
}

func (d *Dual) HeatConfig(ctx context.Context, heatID string) (*models.HeatRealtimeConfig, error) {
	return d.primary.HeatConfig(ctx, heatID)
}

func (d *Dual) Close() error {
	err := d.primary.Close()
	if cerr := d.secondary.Close(); err == nil {
		err = cerr
	}
	return err
}
