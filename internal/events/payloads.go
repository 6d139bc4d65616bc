// Package events holds the payload types shared between the scoring
// services and the gateway, mirroring the wire shape of broadcast messages.
package events

import "time"

// EventType identifies a heat event on the wire.
type EventType string

const (
	EventTypeScoreSubmitted EventType = "ScoreSubmitted"
	EventTypeTimerStarted   EventType = "TimerStarted"
	EventTypeTimerPaused    EventType = "TimerPaused"
	EventTypeTimerReset     EventType = "TimerReset"
	EventTypeHeatFinished   EventType = "HeatFinished"
	EventTypeHeatClosed     EventType = "HeatClosed"
	EventTypeHeatActivated  EventType = "HeatActivated"
)

// ScoreSubmittedPayload is emitted when a judge score lands locally.
type ScoreSubmittedPayload struct {
	ScoreID   string    `json:"score_id"`
	HeatID    string    `json:"heat_id"`
	JudgeID   string    `json:"judge_id"`
	Surfer    string    `json:"surfer"`
	Wave      int       `json:"wave"`
	Value     float64   `json:"value"`
	Synced    bool      `json:"synced"`
	Timestamp time.Time `json:"timestamp"`
}

// TimerPayload describes a timer state change.
type TimerPayload struct {
	HeatID       string        `json:"heat_id"`
	Status       string        `json:"status"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	Remaining    time.Duration `json:"remaining"`
	LastWriter   string        `json:"last_writer"`
}

// HeatClosedPayload summarizes a close operation.
type HeatClosedPayload struct {
	HeatID     string    `json:"heat_id"`
	Ranking    []string  `json:"ranking,omitempty"` // surfer slot codes, rank order
	NextHeatID string    `json:"next_heat_id,omitempty"`
	ClosedAt   time.Time `json:"closed_at"`
}

// HeatActivatedPayload announces the newly active heat so judge and display
// clients reload without manual refresh.
type HeatActivatedPayload struct {
	HeatID      string    `json:"heat_id"`
	ActivatedAt time.Time `json:"activated_at"`
}
