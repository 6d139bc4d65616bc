package progression

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wavecrest/heatsync/internal/canonical"
	"github.com/wavecrest/heatsync/internal/events"
	"github.com/wavecrest/heatsync/internal/models"
	"github.com/wavecrest/heatsync/internal/placeholder"
	"github.com/wavecrest/heatsync/internal/remote"
)

// CloseResult reports what a heat close did, including the per-target
// outcomes of qualifier propagation.
type CloseResult struct {
	HeatID  string
	Ranking []RankedSurfer
	// Warning is set when the close skipped propagation (e.g. no valid
	// scores); the close itself still completed.
	Warning string
	// Propagated lists the target heat ids whose entries were rewritten.
	Propagated []string
	// Failed maps target heat ids to the error that skipped them.
	Failed map[string]error
	// Unresolved lists placeholder strings no accepted grammar form matched.
	Unresolved []string
	// NextHeat is the newly activated heat; nil when the division is
	// complete and an explicit operator choice is required.
	NextHeat *models.Heat
}

// CloseHeat closes a heat: stops the timer, computes the ranking, writes
// qualifiers into downstream heats, and activates the next heat in the
// division. Remote failures during propagation are isolated per target heat
// and never abort the close; the local transition always completes.
func (m *Machine) CloseHeat(ctx context.Context, heatID string) (*CloseResult, error) {
	heatID = models.NormalizeHeatID(heatID)
	result := &CloseResult{HeatID: heatID, Failed: make(map[string]error)}

	closing, err := m.lookupHeat(ctx, heatID)
	if err != nil {
		log.Warn().Err(err).Str("heat_id", heatID).
			Msg("closing heat not found remotely, propagation unavailable")
	}

	// Closing twice must not re-run ranking or rewrite downstream entries.
	if closing != nil && closing.Status == models.HeatStatusClosed {
		result.Warning = "heat already closed"
		log.Warn().Str("heat_id", heatID).Msg(result.Warning)
		return result, nil
	}

	// 1. Stop the timer and broadcast the finished state.
	if _, err := m.FinishHeat(ctx, heatID); err != nil {
		return nil, fmt.Errorf("finish heat %s: %w", heatID, err)
	}

	// Mark the heat closed remotely, best effort.
	if m.remote != nil && closing != nil {
		closed := *closing
		closed.Status = models.HeatStatusClosed
		if err := m.remote.UpsertHeat(ctx, closed); err != nil {
			log.Warn().Err(err).Str("heat_id", heatID).
				Msg("failed to mark heat closed remotely")
		}
	}

	// 2. No valid scores: skip propagation, never fabricate a ranking.
	raw, err := m.local.ScoresByHeat(ctx, heatID)
	if err != nil {
		return nil, fmt.Errorf("load scores for %s: %w", heatID, err)
	}
	scores := canonical.Canonicalize(raw)
	if !hasPositiveScore(scores) {
		result.Warning = "no valid scores recorded, qualifier propagation skipped"
		log.Warn().Str("heat_id", heatID).Msg(result.Warning)
	} else if closing != nil {
		// 3. External ranking function.
		ranking, err := m.ranker.Rank(ctx, *closing, scores)
		if err != nil {
			result.Warning = fmt.Sprintf("ranking failed: %v", err)
			log.Error().Err(err).Str("heat_id", heatID).Msg("ranking function failed")
		} else {
			result.Ranking = ranking
			// 4-5. Rewrite downstream placeholder slots.
			m.propagate(ctx, *closing, ranking, result)
		}
	}

	// 6-7. Activate the next heat in the division, if any.
	if closing != nil {
		next, err := m.nextHeat(ctx, *closing)
		if err != nil {
			log.Warn().Err(err).Str("heat_id", heatID).
				Msg("could not determine next heat")
		} else if next != nil {
			result.NextHeat = next
			if err := m.activate(ctx, next.ID); err != nil {
				log.Warn().Err(err).Str("heat_id", next.ID).
					Msg("failed to broadcast newly active heat")
			}
		} else {
			log.Info().Str("division", closing.Division).
				Msg("division complete, awaiting explicit operator choice")
		}
	}

	m.announceClose(result)
	return result, nil
}

// announceClose tells clients watching the closed heat where to go next.
func (m *Machine) announceClose(result *CloseResult) {
	payload := events.HeatClosedPayload{
		HeatID:   result.HeatID,
		ClosedAt: m.clock.Now().UTC(),
	}
	for _, r := range result.Ranking {
		payload.Ranking = append(payload.Ranking, r.Surfer)
	}
	if result.NextHeat != nil {
		payload.NextHeatID = models.NormalizeHeatID(result.NextHeat.ID)
	}
	m.channel.AnnounceClose(payload)
}

func (m *Machine) lookupHeat(ctx context.Context, heatID string) (*models.Heat, error) {
	if m.remote == nil {
		return nil, fmt.Errorf("heat %q: %w", heatID, remote.ErrHeatNotFound)
	}
	return m.remote.Heat(ctx, heatID)
}

func hasPositiveScore(scores []models.CanonicalScore) bool {
	for _, s := range scores {
		if s.Value > 0 {
			return true
		}
	}
	return false
}

// propagate writes the closed heat's qualifiers into every downstream slot
// mapping that references it. One replace-entries write per target heat;
// failures are recorded and skipped, never propagated upward.
func (m *Machine) propagate(ctx context.Context, closed models.Heat, ranking []RankedSurfer, result *CloseResult) {
	heats, err := m.remote.HeatsByDivision(ctx, closed.Competition, closed.Division)
	if err != nil {
		result.Failed["_division"] = err
		log.Error().Err(err).Str("division", closed.Division).
			Msg("failed to fetch division heats for propagation")
		return
	}

	byRank := make(map[int]RankedSurfer, len(ranking))
	for _, r := range ranking {
		byRank[r.Rank] = r
	}
	participantBySlot := make(map[string]models.HeatEntry, len(closed.Entries))
	for _, e := range closed.Entries {
		participantBySlot[e.SlotCode] = e
	}

	for _, target := range heats {
		if models.NormalizeHeatID(target.ID) == models.NormalizeHeatID(closed.ID) {
			continue
		}
		changed := false
		entries := make([]models.HeatEntry, len(target.Entries))
		copy(entries, target.Entries)

		for i, entry := range entries {
			ref, ok := sourceRef(entry, result)
			if !ok || ref.Round != closed.Round || ref.Heat != closed.Number {
				continue
			}
			qualifier, ok := byRank[ref.Position]
			if !ok {
				log.Warn().Str("target_heat", target.ID).
					Int("position", ref.Position).
					Msg("ranking has no qualifier at mapped position")
				continue
			}
			src := participantBySlot[qualifier.Surfer]
			entries[i].Participant = src.Participant
			entries[i].Seed = src.Seed
			if entries[i].SlotCode == "" {
				entries[i].SlotCode = qualifier.Surfer
			}
			changed = true
		}

		if !changed {
			continue
		}
		if err := m.remote.ReplaceHeatEntries(ctx, target.ID, entries); err != nil {
			result.Failed[target.ID] = err
			log.Error().Err(err).Str("target_heat", target.ID).
				Msg("qualifier write failed, skipping target heat")
			continue
		}
		result.Propagated = append(result.Propagated, target.ID)
	}
}

// sourceRef resolves a slot mapping's source from the structured fields or,
// failing that, the placeholder string. An unparseable placeholder is
// recorded for operator review and never guessed at.
func sourceRef(entry models.HeatEntry, result *CloseResult) (placeholder.SlotRef, bool) {
	if entry.Participant != "" {
		return placeholder.SlotRef{}, false // already resolved
	}
	if entry.SourceRound > 0 && entry.SourceHeat > 0 && entry.SourcePosition > 0 {
		return placeholder.SlotRef{
			Round:    entry.SourceRound,
			Heat:     entry.SourceHeat,
			Position: entry.SourcePosition,
		}, true
	}
	if entry.Placeholder == "" {
		return placeholder.SlotRef{}, false
	}
	ref, err := placeholder.Parse(entry.Placeholder)
	if err != nil {
		if errors.Is(err, placeholder.ErrUnresolvable) {
			result.Unresolved = append(result.Unresolved, entry.Placeholder)
		}
		return placeholder.SlotRef{}, false
	}
	return ref, true
}

// nextHeat picks the first heat in (round, heat-number) order after the
// closed one whose status is not already closed. Nil means the division is
// complete; the machine never auto-switches divisions.
func (m *Machine) nextHeat(ctx context.Context, closed models.Heat) (*models.Heat, error) {
	heats, err := m.remote.HeatsByDivision(ctx, closed.Competition, closed.Division)
	if err != nil {
		return nil, err
	}
	for _, h := range heats {
		if h.Round < closed.Round ||
			(h.Round == closed.Round && h.Number <= closed.Number) {
			continue
		}
		if h.Status == models.HeatStatusClosed {
			continue
		}
		h := h
		return &h, nil
	}
	return nil, nil
}

// activate resets timer state for the newly active heat and broadcasts it so
// judge and display clients reload without manual refresh.
func (m *Machine) activate(ctx context.Context, heatID string) error {
	cfg, err := m.currentConfig(ctx, heatID)
	if err != nil {
		return err
	}
	cfg.Status = models.TimerStatusWaiting
	cfg.TimerStartedAt = nil
	if _, err := m.channel.PublishConfig(ctx, cfg); err != nil {
		return err
	}
	log.Info().Str("heat_id", heatID).Msg("heat activated")
	return nil
}
