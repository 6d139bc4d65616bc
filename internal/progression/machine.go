// Package progression governs the heat lifecycle and advances the bracket:
// timer transitions, heat close, qualifier propagation into downstream
// heats, and selection of the next heat to activate.
package progression

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/wavecrest/heatsync/internal/broadcast"
	"github.com/wavecrest/heatsync/internal/models"
	"github.com/wavecrest/heatsync/internal/remote"
	"github.com/wavecrest/heatsync/internal/store"
)

// Machine drives the heat progression state machine:
//
//	waiting → running → paused → running → … → finished → (closed)
//
// All transitions go through the broadcast channel so every connected client
// observes the same shared record.
type Machine struct {
	local   store.Store
	remote  remote.Store // nil while running without a remote backend
	channel *broadcast.Channel
	ranker  Ranker
	clock   clockwork.Clock
}

func NewMachine(local store.Store, rem remote.Store, channel *broadcast.Channel, ranker Ranker, clock clockwork.Clock) *Machine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Machine{local: local, remote: rem, channel: channel, ranker: ranker, clock: clock}
}

func (m *Machine) currentConfig(ctx context.Context, heatID string) (models.HeatRealtimeConfig, error) {
	snap, err := m.channel.Snapshot(ctx, heatID)
	if err != nil {
		return models.HeatRealtimeConfig{}, err
	}
	if snap == nil {
		return models.HeatRealtimeConfig{
			HeatID: models.NormalizeHeatID(heatID),
			Status: models.TimerStatusWaiting,
		}, nil
	}
	return *snap, nil
}

// StartTimer moves the heat to running. A zero duration keeps the already
// configured one (e.g. the remaining time set by a previous reset).
func (m *Machine) StartTimer(ctx context.Context, heatID string, duration time.Duration) (models.HeatRealtimeConfig, error) {
	cfg, err := m.currentConfig(ctx, heatID)
	if err != nil {
		return models.HeatRealtimeConfig{}, err
	}
	if cfg.Status == models.TimerStatusRunning {
		return cfg, nil
	}
	if duration > 0 {
		cfg.TimerDuration = duration
	}
	now := m.clock.Now().UTC()
	cfg.Status = models.TimerStatusRunning
	cfg.TimerStartedAt = &now
	return m.channel.PublishConfig(ctx, cfg)
}

// PauseTimer captures the remaining duration so resume continues where the
// heat left off. Pausing a heat that is not running is a no-op.
func (m *Machine) PauseTimer(ctx context.Context, heatID string) (models.HeatRealtimeConfig, error) {
	cfg, err := m.currentConfig(ctx, heatID)
	if err != nil {
		return models.HeatRealtimeConfig{}, err
	}
	if cfg.Status != models.TimerStatusRunning {
		return cfg, nil
	}
	cfg.TimerDuration = cfg.Remaining(m.clock.Now().UTC())
	cfg.Status = models.TimerStatusPaused
	cfg.TimerStartedAt = nil
	return m.channel.PublishConfig(ctx, cfg)
}

// ResumeTimer rebases the start instant to now, running for the remaining
// duration captured at pause. Resuming a heat that is not paused is a no-op.
func (m *Machine) ResumeTimer(ctx context.Context, heatID string) (models.HeatRealtimeConfig, error) {
	cfg, err := m.currentConfig(ctx, heatID)
	if err != nil {
		return models.HeatRealtimeConfig{}, err
	}
	if cfg.Status != models.TimerStatusPaused {
		return cfg, nil
	}
	now := m.clock.Now().UTC()
	cfg.Status = models.TimerStatusRunning
	cfg.TimerStartedAt = &now
	return m.channel.PublishConfig(ctx, cfg)
}

// ResetTimer returns the heat to waiting with a full duration.
func (m *Machine) ResetTimer(ctx context.Context, heatID string, duration time.Duration) (models.HeatRealtimeConfig, error) {
	cfg, err := m.currentConfig(ctx, heatID)
	if err != nil {
		return models.HeatRealtimeConfig{}, err
	}
	cfg.Status = models.TimerStatusWaiting
	cfg.TimerStartedAt = nil
	if duration > 0 {
		cfg.TimerDuration = duration
	}
	return m.channel.PublishConfig(ctx, cfg)
}

// FinishHeat marks the timer finished (elapsed locally or by administrator
// action) without closing the heat.
func (m *Machine) FinishHeat(ctx context.Context, heatID string) (models.HeatRealtimeConfig, error) {
	cfg, err := m.currentConfig(ctx, heatID)
	if err != nil {
		return models.HeatRealtimeConfig{}, err
	}
	cfg.TimerDuration = cfg.Remaining(m.clock.Now().UTC())
	cfg.Status = models.TimerStatusFinished
	cfg.TimerStartedAt = nil
	return m.channel.PublishConfig(ctx, cfg)
}
