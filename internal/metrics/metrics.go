// Package metrics exposes the engine's prometheus collectors. The pending
// gauge backs the user-visible "pending sync" indicator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScoresSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heatsync_scores_submitted_total",
		Help: "Judge score submissions accepted locally.",
	})

	PendingSync = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heatsync_pending_sync_records",
		Help: "Locally persisted records not yet replayed to the remote store.",
	})

	SyncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heatsync_sync_failures_total",
		Help: "Remote replays that failed and were left pending.",
	})

	SyncDrained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heatsync_sync_drained_total",
		Help: "Pending records successfully replayed to the remote store.",
	})

	BroadcastEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heatsync_broadcast_events_total",
		Help: "Heat events fanned out to connected clients.",
	}, []string{"type"})
)
