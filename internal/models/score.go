package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxWaveScore is the highest value a judge may award for a single wave.
const MaxWaveScore = 10.0

// Score is one raw judge submission. Raw score storage is append-only:
// corrections never mutate or delete a prior row, they insert a new row
// sharing the same logical key with a fresh timestamp.
type Score struct {
	ID          uuid.UUID `json:"id"`
	HeatID      string    `json:"heat_id"`
	Competition string    `json:"competition"`
	Division    string    `json:"division"`
	Round       int       `json:"round"`
	JudgeID     string    `json:"judge_id"`
	JudgeName   string    `json:"judge_name"`
	Surfer      string    `json:"surfer"`
	Wave        int       `json:"wave"`
	Value       float64   `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
	PersistedAt time.Time `json:"persisted_at"`
	Synced      bool      `json:"synced"`
}

// LogicalKey groups the raw rows that describe the same judged wave.
// It is a grouping key only, never a storage-level uniqueness constraint.
type LogicalKey struct {
	HeatID  string
	JudgeID string
	Surfer  string
	Wave    int
}

// Key returns the score's logical key with the heat id normalized, so rows
// written under legacy raw ids group with their normalized siblings.
func (s Score) Key() LogicalKey {
	return LogicalKey{
		HeatID:  NormalizeHeatID(s.HeatID),
		JudgeID: s.JudgeID,
		Surfer:  s.Surfer,
		Wave:    s.Wave,
	}
}

// CanonicalScore is the single authoritative value for one logical key,
// derived by latest-timestamp reduction over the raw rows. It is never
// stored; it is recomputed on every read.
type CanonicalScore struct {
	Score
}
