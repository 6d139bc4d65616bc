package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/wavecrest/heatsync/internal/broadcast"
	"github.com/wavecrest/heatsync/internal/canonical"
	"github.com/wavecrest/heatsync/internal/config"
	"github.com/wavecrest/heatsync/internal/gateway"
	"github.com/wavecrest/heatsync/internal/ingest"
	"github.com/wavecrest/heatsync/internal/models"
	"github.com/wavecrest/heatsync/internal/override"
	"github.com/wavecrest/heatsync/internal/progression"
	"github.com/wavecrest/heatsync/internal/remote"
	"github.com/wavecrest/heatsync/internal/store"
	"github.com/wavecrest/heatsync/internal/syncer"
)

// Services holds the composed dependency graph.
type Services struct {
	Local   store.Store
	Remote  remote.Store
	Feed    *remote.NATSFeed
	Channel *broadcast.Channel
	Ingest  *ingest.Service
	Over    *override.Service
	Machine *progression.Machine
	Syncer  *syncer.Worker
	Manager *gateway.ConnectionManager
	API     *gateway.API
	Handler *gateway.WebSocketHandler
}

func setupServices(ctx context.Context, cfg config.Config) (*Services, error) {
	local, err := store.Open(store.Config{
		SQLitePath:  cfg.Local.SQLitePath,
		FallbackDir: cfg.Local.FallbackDir,
	})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	var feed *remote.NATSFeed
	var changeFeed remote.ChangeFeed
	if cfg.NATS.Enabled {
		feed, err = remote.NewNATSFeed(remote.NATSFeedConfig{
			URL:           cfg.NATS.URL,
			MaxReconnects: -1,
			ReconnectWait: remote.DefaultNATSFeedConfig().ReconnectWait,
		})
		if err != nil {
			return nil, fmt.Errorf("connect change feed: %w", err)
		}
		changeFeed = feed
	}

	var rem remote.Store
	if cfg.Postgres.Enabled {
		var pub remote.Publisher
		if feed != nil {
			pub = feed
		}
		pg, err := remote.NewPostgres(ctx, cfg.Postgres.DSN(), pub)
		if err != nil {
			return nil, fmt.Errorf("connect remote store: %w", err)
		}
		rem = pg
	} else {
		log.Warn().Msg("remote backend disabled, running fully offline")
	}

	clock := clockwork.NewRealClock()
	ing := ingest.NewService(local, rem, clock)
	ovr := override.NewService(local, rem, ing.Notifier(), clock)
	channel := broadcast.NewChannel(local, rem, changeFeed, cfg.ClientID)
	machine := progression.NewMachine(local, rem, channel, progression.BestTwoWaves(), clock)
	cache := canonical.NewCache(canonical.DefaultTTL, clock)

	// local score changes invalidate the canonical read cache
	ing.Notifier().Subscribe(func(sc models.Score) {
		cache.Invalidate(sc.HeatID)
	})

	var worker *syncer.Worker
	if rem != nil {
		worker = syncer.NewWorker(local, rem, syncer.Config{
			PollInterval: cfg.Sync.PollInterval,
			MaxRetries:   cfg.Sync.MaxRetries,
			RetryDelay:   cfg.Sync.RetryDelay,
		})
	}

	manager := gateway.NewConnectionManager(channel, gateway.DefaultConnectionConfig())

	return &Services{
		Local:   local,
		Remote:  rem,
		Feed:    feed,
		Channel: channel,
		Ingest:  ing,
		Over:    ovr,
		Machine: machine,
		Syncer:  worker,
		Manager: manager,
		API:     gateway.NewAPI(ing, ovr, machine, local, cache, worker),
		Handler: gateway.NewWebSocketHandler(manager),
	}, nil
}
