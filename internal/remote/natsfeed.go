package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/wavecrest/heatsync/internal/models"
)

// NATSFeedConfig holds connection settings for the change feed.
type NATSFeedConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSFeedConfig returns the default feed configuration.
func DefaultNATSFeedConfig() NATSFeedConfig {
	return NATSFeedConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSFeed carries low-latency change notifications between clients over
// NATS subjects filtered per heat: heat.scores.<heat_id> and
// heat.config.<heat_id>. It implements both the Publisher hook of the
// postgres adapter and the ChangeFeed contract. Missed messages are covered
// by the snapshot-before-push rule on subscribe, so plain core subjects
// suffice; no durable consumer state is kept per client.
type NATSFeed struct {
	nc *nats.Conn
}

// NewNATSFeed connects to NATS with reconnect handlers wired into the log.
func NewNATSFeed(cfg NATSFeedConfig) (*NATSFeed, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSFeed{nc: nc}, nil
}

func (f *NATSFeed) Close() {
	if f.nc != nil {
		f.nc.Close()
	}
}

func scoreSubject(heatID string) string {
	return "heat.scores." + models.NormalizeHeatID(heatID)
}

func configSubject(heatID string) string {
	return "heat.config." + models.NormalizeHeatID(heatID)
}

func (f *NATSFeed) PublishScore(s models.Score) {
	data, err := json.Marshal(s)
	if err != nil {
		log.Error().Err(err).Msg("marshal score notification")
		return
	}
	if err := f.nc.Publish(scoreSubject(s.HeatID), data); err != nil {
		log.Warn().Err(err).Str("heat_id", s.HeatID).Msg("publish score notification")
	}
}

func (f *NATSFeed) PublishConfig(c models.HeatRealtimeConfig) {
	data, err := json.Marshal(c)
	if err != nil {
		log.Error().Err(err).Msg("marshal config notification")
		return
	}
	if err := f.nc.Publish(configSubject(c.HeatID), data); err != nil {
		log.Warn().Err(err).Str("heat_id", c.HeatID).Msg("publish config notification")
	}
}

func (f *NATSFeed) SubscribeScores(_ context.Context, heatID string, fn func(models.Score)) (Unsubscribe, error) {
	sub, err := f.nc.Subscribe(scoreSubject(heatID), func(msg *nats.Msg) {
		var s models.Score
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed score notification")
			return
		}
		fn(s)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe scores: %v", ErrUnavailable, err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				log.Debug().Err(err).Msg("unsubscribe score feed")
			}
		})
	}, nil
}

func (f *NATSFeed) SubscribeConfig(_ context.Context, heatID string, fn func(models.HeatRealtimeConfig)) (Unsubscribe, error) {
	sub, err := f.nc.Subscribe(configSubject(heatID), func(msg *nats.Msg) {
		var c models.HeatRealtimeConfig
		if err := json.Unmarshal(msg.Data, &c); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed config notification")
			return
		}
		fn(c)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe config: %v", ErrUnavailable, err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				log.Debug().Err(err).Msg("unsubscribe config feed")
			}
		})
	}, nil
}
