// Package ingest accepts judge submissions: validate, persist locally,
// attempt the immediate remote write, and notify local listeners.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/wavecrest/heatsync/internal/metrics"
	"github.com/wavecrest/heatsync/internal/models"
	"github.com/wavecrest/heatsync/internal/remote"
	"github.com/wavecrest/heatsync/internal/store"
)

// ErrScoreOutOfRange rejects submissions outside [0, MaxWaveScore] before
// any write happens.
var ErrScoreOutOfRange = errors.New("ingest: score out of range")

// SubmitScoreRequest carries one judge submission.
type SubmitScoreRequest struct {
	HeatID      string
	Competition string
	Division    string
	Round       int
	JudgeID     string
	JudgeName   string
	Surfer      string
	Wave        int
	Value       float64
}

// Service writes scores through the local store and opportunistically to the
// remote store. A remote failure is never surfaced to the judge: the row
// stays pending and the sync engine replays it later.
type Service struct {
	local    store.Store
	remote   remote.Store // nil while running without a remote backend
	notifier *Notifier
	clock    clockwork.Clock
}

func NewService(local store.Store, rem remote.Store, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		local:    local,
		remote:   rem,
		notifier: NewNotifier(),
		clock:    clock,
	}
}

// Notifier exposes the local score-changed subscription.
func (s *Service) Notifier() *Notifier { return s.notifier }

// SubmitScore validates and records a submission. The returned score
// reflects optimistic local success; Synced reports whether the immediate
// remote upsert also landed.
func (s *Service) SubmitScore(ctx context.Context, req SubmitScoreRequest) (*models.Score, error) {
	if req.Value < 0 || req.Value > models.MaxWaveScore {
		return nil, fmt.Errorf("%w: %.2f not in [0, %.1f]",
			ErrScoreOutOfRange, req.Value, models.MaxWaveScore)
	}

	now := s.clock.Now().UTC()
	sc := models.Score{
		ID:          uuid.New(),
		HeatID:      models.NormalizeHeatID(req.HeatID),
		Competition: req.Competition,
		Division:    req.Division,
		Round:       req.Round,
		JudgeID:     req.JudgeID,
		JudgeName:   req.JudgeName,
		Surfer:      req.Surfer,
		Wave:        req.Wave,
		Value:       req.Value,
		Timestamp:   now,
		PersistedAt: now,
		Synced:      false,
	}

	if err := s.local.PutScore(ctx, sc); err != nil {
		return nil, fmt.Errorf("persist score locally: %w", err)
	}
	metrics.ScoresSubmitted.Inc()

	if s.remote != nil {
		if err := s.pushRemote(ctx, sc); err != nil {
			log.Info().Err(err).
				Str("heat_id", sc.HeatID).
				Str("judge_id", sc.JudgeID).
				Msg("remote write deferred, score left pending sync")
		} else {
			if err := s.local.MarkScoreSynced(ctx, sc.ID); err != nil {
				log.Warn().Err(err).Str("score_id", sc.ID.String()).
					Msg("failed to flip synced flag after remote write")
			} else {
				sc.Synced = true
			}
		}
	}

	s.notifier.Notify(sc)
	return &sc, nil
}

// pushRemote upserts the score by identity, auto-repairing a missing parent
// heat with a minimal row to satisfy referential prerequisites. A failed
// repair counts as a connectivity failure.
func (s *Service) pushRemote(ctx context.Context, sc models.Score) error {
	err := s.remote.UpsertScore(ctx, sc)
	if err == nil {
		return nil
	}
	if !errors.Is(err, remote.ErrHeatNotFound) {
		return err
	}

	minimal := models.Heat{
		ID:          sc.HeatID,
		Competition: sc.Competition,
		Division:    sc.Division,
		Round:       sc.Round,
		Status:      models.HeatStatusOpen,
	}
	if err := s.remote.UpsertHeat(ctx, minimal); err != nil {
		return fmt.Errorf("repair parent heat: %w", err)
	}
	return s.remote.UpsertScore(ctx, sc)
}

// PushRemote replays an existing score row; used by the sync engine.
func (s *Service) PushRemote(ctx context.Context, sc models.Score) error {
	return s.pushRemote(ctx, sc)
}
