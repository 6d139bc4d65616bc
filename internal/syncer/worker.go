// Package syncer replays locally-pending records to the remote store once
// connectivity is available.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wavecrest/heatsync/internal/metrics"
	"github.com/wavecrest/heatsync/internal/models"
	"github.com/wavecrest/heatsync/internal/remote"
	"github.com/wavecrest/heatsync/internal/store"
)

// Config tunes the drain loop.
type Config struct {
	PollInterval time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

// DefaultConfig returns the default drain configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		MaxRetries:   3,
		RetryDelay:   time.Second,
	}
}

// Worker drains unsynced local rows to the remote store. Each drain works on
// a snapshot of the currently-unsynced rows; rows added mid-drain are picked
// up on the next trigger, never dropped. Safe to run concurrently with new
// ingestion.
type Worker struct {
	local  store.Store
	remote remote.Store
	config Config

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wakeCh   chan struct{}
	wg       sync.WaitGroup

	lastErrMu sync.Mutex
	lastErr   error
}

func NewWorker(local store.Store, rem remote.Store, cfg Config) *Worker {
	return &Worker{
		local:    local,
		remote:   rem,
		config:   cfg,
		stopChan: make(chan struct{}),
		wakeCh:   make(chan struct{}, 1),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	log.Info().Dur("poll_interval", w.config.PollInterval).Msg("sync worker started")
	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	log.Info().Msg("sync worker stopped")
	return nil
}

// WakeOnline triggers an immediate drain; called on connectivity-recovered
// events instead of waiting for the next poll tick.
func (w *Worker) WakeOnline() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// LastError returns the most recent drain failure, for the user-visible
// sync status line. Nil after a clean drain.
func (w *Worker) LastError() error {
	w.lastErrMu.Lock()
	defer w.lastErrMu.Unlock()
	return w.lastErr
}

func (w *Worker) setLastError(err error) {
	w.lastErrMu.Lock()
	w.lastErr = err
	w.lastErrMu.Unlock()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Drain immediately on start
	w.Drain(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-w.wakeCh:
			w.Drain(ctx)
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain replays one snapshot of pending rows. Returns counts for tests and
// status surfaces.
func (w *Worker) Drain(ctx context.Context) (drained, failed int) {
	scores, err := w.local.UnsyncedScores(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to snapshot unsynced scores")
		w.setLastError(err)
		return 0, 0
	}
	overrides, err := w.local.UnsyncedOverrides(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to snapshot unsynced override logs")
		w.setLastError(err)
		return 0, 0
	}

	metrics.PendingSync.Set(float64(len(scores) + len(overrides)))
	if len(scores) == 0 && len(overrides) == 0 {
		return 0, 0
	}
	log.Debug().Int("scores", len(scores)).Int("overrides", len(overrides)).
		Msg("draining pending records")

	var firstErr error
	for _, sc := range scores {
		if err := w.pushScore(ctx, sc); err != nil {
			failed++
			metrics.SyncFailures.Inc()
			if firstErr == nil {
				firstErr = err
			}
			log.Info().Err(err).Str("score_id", sc.ID.String()).
				Msg("score replay failed, left pending")
			continue
		}
		if err := w.local.MarkScoreSynced(ctx, sc.ID); err != nil {
			log.Error().Err(err).Str("score_id", sc.ID.String()).
				Msg("failed to mark score synced")
			continue
		}
		drained++
		metrics.SyncDrained.Inc()
	}

	for _, o := range overrides {
		if err := w.pushWithRetry(ctx, func() error {
			return w.remote.UpsertOverride(ctx, o)
		}); err != nil {
			failed++
			metrics.SyncFailures.Inc()
			if firstErr == nil {
				firstErr = err
			}
			log.Info().Err(err).Str("log_id", o.ID.String()).
				Msg("override replay failed, left pending")
			continue
		}
		if err := w.local.MarkOverrideSynced(ctx, o.ID); err != nil {
			log.Error().Err(err).Str("log_id", o.ID.String()).
				Msg("failed to mark override synced")
			continue
		}
		drained++
		metrics.SyncDrained.Inc()
	}

	w.setLastError(firstErr)
	w.refreshPendingGauge(ctx, failed)
	if drained > 0 || failed > 0 {
		log.Info().Int("drained", drained).Int("failed", failed).Msg("sync cycle complete")
	}
	return drained, failed
}

// refreshPendingGauge re-counts pending rows after a drain so records
// ingested mid-drain show up immediately instead of on the next tick.
func (w *Worker) refreshPendingGauge(ctx context.Context, fallback int) {
	scores, err := w.local.UnsyncedScores(ctx)
	if err != nil {
		metrics.PendingSync.Set(float64(fallback))
		return
	}
	overrides, err := w.local.UnsyncedOverrides(ctx)
	if err != nil {
		metrics.PendingSync.Set(float64(fallback))
		return
	}
	metrics.PendingSync.Set(float64(len(scores) + len(overrides)))
}

// pushScore upserts a score by identity, repairing a missing parent heat
// with a minimal row first.
func (w *Worker) pushScore(ctx context.Context, sc models.Score) error {
	return w.pushWithRetry(ctx, func() error {
		err := w.remote.UpsertScore(ctx, sc)
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
		if err := w.remote.UpsertHeat(ctx, minimal); err != nil {
			return fmt.Errorf("repair parent heat: %w", err)
		}
		return w.remote.UpsertScore(ctx, sc)
	})
}

func (w *Worker) pushWithRetry(ctx context.Context, push func() error) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}
		if err := push(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("failed after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}
