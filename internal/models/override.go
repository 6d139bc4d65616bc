package models

import (
	"time"

	"github.com/google/uuid"
)

// OverrideReason classifies why a score was corrected.
type OverrideReason string

const (
	OverrideReasonJudgeError      OverrideReason = "JUDGE_ERROR"
	OverrideReasonTechnicalIssue  OverrideReason = "TECHNICAL_ISSUE"
	OverrideReasonChiefCorrection OverrideReason = "CHIEF_JUDGE_CORRECTION"
)

// OverrideLog is one audit record of a score correction. Append-only, never
// mutated; exactly one row is written per override call.
type OverrideLog struct {
	ID            uuid.UUID      `json:"id"`
	HeatID        string         `json:"heat_id"`
	ScoreID       uuid.UUID      `json:"score_id"`
	JudgeID       string         `json:"judge_id"`
	Surfer        string         `json:"surfer"`
	Wave          int            `json:"wave"`
	PreviousValue *float64       `json:"previous_value,omitempty"`
	NewValue      float64        `json:"new_value"`
	Reason        OverrideReason `json:"reason"`
	Comment       string         `json:"comment,omitempty"`
	Actor         string         `json:"actor"`
	CreatedAt     time.Time      `json:"created_at"`
	Synced        bool           `json:"synced"`
}
