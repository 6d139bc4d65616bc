package models

import (
	"encoding/json"
	"time"
)

// TimerStatus defines the lifecycle status of a heat's shared timer record.
type TimerStatus string

const (
	TimerStatusWaiting  TimerStatus = "waiting"
	TimerStatusRunning  TimerStatus = "running"
	TimerStatusPaused   TimerStatus = "paused"
	TimerStatusFinished TimerStatus = "finished"
)

// HeatRealtimeConfig is the single shared record per heat carrying timer and
// configuration state for all connected clients. It is a last-writer-wins
// replicated variable: any client may overwrite it, readers treat it as the
// sole source of truth and never accumulate deltas.
type HeatRealtimeConfig struct {
	HeatID         string          `json:"heat_id"`
	Status         TimerStatus     `json:"status"`
	TimerStartedAt *time.Time      `json:"timer_started_at,omitempty"`
	TimerDuration  time.Duration   `json:"timer_duration"`
	Snapshot       json.RawMessage `json:"snapshot,omitempty"`
	LastWriter     string          `json:"last_writer"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Remaining reports the timer time left at now. While paused the remaining
// duration was already captured into TimerDuration, so it is returned as-is.
func (c HeatRealtimeConfig) Remaining(now time.Time) time.Duration {
	if c.Status != TimerStatusRunning || c.TimerStartedAt == nil {
		return c.TimerDuration
	}
	rem := c.TimerDuration - now.Sub(*c.TimerStartedAt)
	if rem < 0 {
		return 0
	}
	return rem
}
