// Package broadcast maintains the single shared realtime record per heat
// and the change-notification subscriptions that keep every connected
// client on the same timer, config and score state.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/wavecrest/heatsync/internal/events"
	"github.com/wavecrest/heatsync/internal/metrics"
	"github.com/wavecrest/heatsync/internal/models"
	"github.com/wavecrest/heatsync/internal/remote"
	"github.com/wavecrest/heatsync/internal/store"
)

// Handlers receives pushed state for one subscribed heat. OnConfig also
// receives the initial snapshot before any push, so a subscriber never
// misses state that predates its subscription.
type Handlers struct {
	OnConfig func(models.HeatRealtimeConfig)
	OnScore  func(models.Score)
	// OnClosed receives the close announcement for the subscribed heat,
	// carrying the final ranking and the id of the heat activated next.
	OnClosed func(events.HeatClosedPayload)
}

// Channel publishes and consumes the per-heat HeatRealtimeConfig record.
// The record is last-writer-wins: publishing unconditionally overwrites,
// readers treat the latest copy as the single source of truth.
type Channel struct {
	local    store.Store
	remote   remote.Store      // nil while running without a remote backend
	feed     remote.ChangeFeed // nil disables cross-client pushes
	clientID string

	mu         sync.Mutex
	nextSubID  int
	closedSubs map[string]map[int]func(events.HeatClosedPayload)
}

func NewChannel(local store.Store, rem remote.Store, feed remote.ChangeFeed, clientID string) *Channel {
	return &Channel{
		local:      local,
		remote:     rem,
		feed:       feed,
		clientID:   clientID,
		closedSubs: make(map[string]map[int]func(events.HeatClosedPayload)),
	}
}

// PublishConfig overwrites the heat's shared record, stamping this client as
// last writer. The local snapshot is always persisted so a restarted client
// resumes from the last known state; the remote write is best effort and a
// failure never blocks the local transition.
func (c *Channel) PublishConfig(ctx context.Context, cfg models.HeatRealtimeConfig) (models.HeatRealtimeConfig, error) {
	cfg.HeatID = models.NormalizeHeatID(cfg.HeatID)
	cfg.LastWriter = c.clientID

	if c.remote != nil {
		stored, err := c.remote.UpsertHeatConfig(ctx, cfg)
		if err != nil {
			log.Info().Err(err).Str("heat_id", cfg.HeatID).
				Msg("config broadcast deferred, remote unreachable")
		} else {
			cfg = stored
		}
	}

	if err := c.local.PutHeatConfig(ctx, cfg); err != nil {
		return models.HeatRealtimeConfig{}, fmt.Errorf("persist heat config locally: %w", err)
	}
	metrics.BroadcastEvents.WithLabelValues("config").Inc()
	return cfg, nil
}

// Snapshot returns the current shared record, preferring the remote copy
// and falling back to the local snapshot. A nil config with nil error means
// the heat has no record yet.
func (c *Channel) Snapshot(ctx context.Context, heatID string) (*models.HeatRealtimeConfig, error) {
	if c.remote != nil {
		cfg, err := c.remote.HeatConfig(ctx, heatID)
		if err == nil {
			if cfg != nil {
				return cfg, nil
			}
		} else {
			log.Debug().Err(err).Str("heat_id", heatID).
				Msg("remote config snapshot unavailable, trying local")
		}
	}
	cfg, err := c.local.HeatConfig(ctx, heatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load local heat config: %w", err)
	}
	return cfg, nil
}

// Subscribe opens the two change-notification subscriptions for a heat
// (config record and score arrivals), delivering the current config
// snapshot before any push. The returned disposer is the sole cleanup hook;
// it fully releases both subscriptions and is safe to call more than once.
// Callers must resubscribe whenever the active heat id changes.
func (c *Channel) Subscribe(ctx context.Context, heatID string, h Handlers) (remote.Unsubscribe, error) {
	heatID = models.NormalizeHeatID(heatID)

	// Snapshot before push so state that predates the subscription is seen.
	if h.OnConfig != nil {
		snap, err := c.Snapshot(ctx, heatID)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			h.OnConfig(*snap)
		}
	}

	var unsubs []remote.Unsubscribe
	if h.OnClosed != nil {
		unsubs = append(unsubs, c.registerClosed(heatID, h.OnClosed))
	}
	if c.feed != nil {
		if h.OnConfig != nil {
			unsub, err := c.feed.SubscribeConfig(ctx, heatID, func(cfg models.HeatRealtimeConfig) {
				metrics.BroadcastEvents.WithLabelValues("config_push").Inc()
				h.OnConfig(cfg)
			})
			if err != nil {
				for _, u := range unsubs {
					u()
				}
				return nil, fmt.Errorf("subscribe config feed: %w", err)
			}
			unsubs = append(unsubs, unsub)
		}
		if h.OnScore != nil {
			unsub, err := c.feed.SubscribeScores(ctx, heatID, func(s models.Score) {
				metrics.BroadcastEvents.WithLabelValues("score_push").Inc()
				h.OnScore(s)
			})
			if err != nil {
				// release the earlier subscriptions before failing
				for _, u := range unsubs {
					u()
				}
				return nil, fmt.Errorf("subscribe score feed: %w", err)
			}
			unsubs = append(unsubs, unsub)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
		})
	}, nil
}

func (c *Channel) registerClosed(heatID string, fn func(events.HeatClosedPayload)) remote.Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSubID++
	id := c.nextSubID
	if c.closedSubs[heatID] == nil {
		c.closedSubs[heatID] = make(map[int]func(events.HeatClosedPayload))
	}
	c.closedSubs[heatID][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.closedSubs[heatID], id)
		if len(c.closedSubs[heatID]) == 0 {
			delete(c.closedSubs, heatID)
		}
	}
}

// AnnounceClose pushes a heat-closed announcement to subscribers of the
// closed heat. Clients watching that heat learn the id of the newly
// activated heat from the payload and resubscribe to it.
func (c *Channel) AnnounceClose(p events.HeatClosedPayload) {
	p.HeatID = models.NormalizeHeatID(p.HeatID)

	c.mu.Lock()
	subs := make([]func(events.HeatClosedPayload), 0, len(c.closedSubs[p.HeatID]))
	for _, fn := range c.closedSubs[p.HeatID] {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(p)
	}
	metrics.BroadcastEvents.WithLabelValues("close").Inc()
}
