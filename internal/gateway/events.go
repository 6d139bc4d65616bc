package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/wavecrest/heatsync/internal/events"
	"github.com/wavecrest/heatsync/internal/models"
)

// HeatEvent is the wire envelope for everything pushed to connected clients.
type HeatEvent struct {
	ID        string           `json:"id"`
	HeatID    string           `json:"heat_id"`
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      json.RawMessage  `json:"data"`
}

func newEvent(heatID string, typ events.EventType, payload any) (*HeatEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &HeatEvent{
		ID:        uuid.New().String(),
		HeatID:    heatID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// configEventType maps a timer status to the event type clients key off.
func configEventType(status models.TimerStatus) events.EventType {
	switch status {
	case models.TimerStatusRunning:
		return events.EventTypeTimerStarted
	case models.TimerStatusPaused:
		return events.EventTypeTimerPaused
	case models.TimerStatusFinished:
		return events.EventTypeHeatFinished
	default:
		return events.EventTypeTimerReset
	}
}

func configEvent(cfg models.HeatRealtimeConfig, now time.Time) (*HeatEvent, error) {
	return newEvent(cfg.HeatID, configEventType(cfg.Status), events.TimerPayload{
		HeatID:     cfg.HeatID,
		Status:     string(cfg.Status),
		StartedAt:  cfg.TimerStartedAt,
		Remaining:  cfg.Remaining(now),
		LastWriter: cfg.LastWriter,
	})
}

func closedEvent(p events.HeatClosedPayload) (*HeatEvent, error) {
	return newEvent(p.HeatID, events.EventTypeHeatClosed, p)
}

// activatedEvent is addressed to the closed heat's pool; the payload carries
// the id of the heat those clients should switch to.
func activatedEvent(closedHeatID string, p events.HeatActivatedPayload) (*HeatEvent, error) {
	return newEvent(closedHeatID, events.EventTypeHeatActivated, p)
}

func scoreEvent(s models.Score) (*HeatEvent, error) {
	return newEvent(models.NormalizeHeatID(s.HeatID), events.EventTypeScoreSubmitted, events.ScoreSubmittedPayload{
		ScoreID:   s.ID.String(),
		HeatID:    models.NormalizeHeatID(s.HeatID),
		JudgeID:   s.JudgeID,
		Surfer:    s.Surfer,
		Wave:      s.Wave,
		Value:     s.Value,
		Synced:    s.Synced,
		Timestamp: s.Timestamp,
	})
}
