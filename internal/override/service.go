// Package override records chief-judge score corrections and merges the
// local and remote audit trails.
package override

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/wavecrest/heatsync/internal/canonical"
	"github.com/wavecrest/heatsync/internal/ingest"
	"github.com/wavecrest/heatsync/internal/models"
	"github.com/wavecrest/heatsync/internal/remote"
	"github.com/wavecrest/heatsync/internal/store"
)

// OverrideScoreRequest identifies the logical key being corrected.
type OverrideScoreRequest struct {
	HeatID   string
	JudgeID  string
	Surfer   string
	Wave     int
	NewValue float64
	Reason   models.OverrideReason
	Comment  string
	Actor    string
}

// Service appends correction rows and their audit records. Corrections never
// mutate prior rows; exactly one OverrideLog row is written per call.
type Service struct {
	local    store.Store
	remote   remote.Store // nil while running without a remote backend
	clock    clockwork.Clock
	notifier *ingest.Notifier
}

func NewService(local store.Store, rem remote.Store, notifier *ingest.Notifier, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{local: local, remote: rem, clock: clock, notifier: notifier}
}

// OverrideScore appends a correction row for the logical key plus one audit
// log entry. Remote writes are best effort; on failure both rows stay
// pending for the sync engine, identical policy to score ingestion.
func (s *Service) OverrideScore(ctx context.Context, req OverrideScoreRequest) (*models.OverrideLog, error) {
	if req.NewValue < 0 || req.NewValue > models.MaxWaveScore {
		return nil, fmt.Errorf("%w: %.2f not in [0, %.1f]",
			ingest.ErrScoreOutOfRange, req.NewValue, models.MaxWaveScore)
	}

	heatID := models.NormalizeHeatID(req.HeatID)
	raw, err := s.local.ScoresByHeat(ctx, heatID)
	if err != nil {
		return nil, fmt.Errorf("load heat scores: %w", err)
	}

	key := models.LogicalKey{HeatID: heatID, JudgeID: req.JudgeID, Surfer: req.Surfer, Wave: req.Wave}
	var previous *float64
	var competition, division string
	var round int
	if cur, ok := canonical.Find(raw, key); ok {
		v := cur.Value
		previous = &v
		competition, division, round = cur.Competition, cur.Division, cur.Round
	}

	now := s.clock.Now().UTC()
	correction := models.Score{
		ID:          uuid.New(),
		HeatID:      heatID,
		Competition: competition,
		Division:    division,
		Round:       round,
		JudgeID:     req.JudgeID,
		Surfer:      req.Surfer,
		Wave:        req.Wave,
		Value:       req.NewValue,
		Timestamp:   now,
		PersistedAt: now,
	}
	entry := models.OverrideLog{
		ID:            uuid.New(),
		HeatID:        heatID,
		ScoreID:       correction.ID,
		JudgeID:       req.JudgeID,
		Surfer:        req.Surfer,
		Wave:          req.Wave,
		PreviousValue: previous,
		NewValue:      req.NewValue,
		Reason:        req.Reason,
		Comment:       req.Comment,
		Actor:         req.Actor,
		CreatedAt:     now,
	}

	if err := s.local.PutScore(ctx, correction); err != nil {
		return nil, fmt.Errorf("persist correction locally: %w", err)
	}
	if err := s.local.PutOverride(ctx, entry); err != nil {
		return nil, fmt.Errorf("persist override log locally: %w", err)
	}

	if s.remote != nil {
		if err := s.pushRemote(ctx, correction, entry); err != nil {
			log.Info().Err(err).Str("heat_id", heatID).
				Msg("override remote write deferred, left pending sync")
		} else {
			if err := s.local.MarkScoreSynced(ctx, correction.ID); err == nil {
				correction.Synced = true
			}
			if err := s.local.MarkOverrideSynced(ctx, entry.ID); err == nil {
				entry.Synced = true
			}
		}
	}

	if s.notifier != nil {
		s.notifier.Notify(correction)
	}
	return &entry, nil
}

func (s *Service) pushRemote(ctx context.Context, correction models.Score, entry models.OverrideLog) error {
	err := s.remote.UpsertScore(ctx, correction)
	if errors.Is(err, remote.ErrHeatNotFound) {
		minimal := models.Heat{
			ID:          correction.HeatID,
			Competition: correction.Competition,
			Division:    correction.Division,
			Round:       correction.Round,
			Status:      models.HeatStatusOpen,
		}
		if repairErr := s.remote.UpsertHeat(ctx, minimal); repairErr != nil {
			return fmt.Errorf("repair parent heat: %w", repairErr)
		}
		err = s.remote.UpsertScore(ctx, correction)
	}
	if err != nil {
		return err
	}
	return s.remote.UpsertOverride(ctx, entry)
}

// LogsForHeat merges remote and local-only audit rows by identity, prefers
// the remote copy when both exist, and sorts newest first. A remote read
// failure degrades to the local trail alone.
func (s *Service) LogsForHeat(ctx context.Context, heatID string) ([]models.OverrideLog, error) {
	local, err := s.local.OverridesByHeat(ctx, heatID)
	if err != nil {
		return nil, fmt.Errorf("load local override logs: %w", err)
	}

	merged := make(map[uuid.UUID]models.OverrideLog, len(local))
	for _, o := range local {
		merged[o.ID] = o
	}
	if s.remote != nil {
		remoteLogs, err := s.remote.OverridesByHeat(ctx, heatID)
		if err != nil {
			log.Info().Err(err).Str("heat_id", heatID).
				Msg("remote audit trail unavailable, serving local only")
		} else {
			for _, o := range remoteLogs {
				merged[o.ID] = o
			}
		}
	}

	out := make([]models.OverrideLog, 0, len(merged))
	for _, o := range merged {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
