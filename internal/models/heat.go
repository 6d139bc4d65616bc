package models

import (
	"fmt"
	"regexp"
	"strings"
)

// HeatStatus defines the lifecycle status of a heat.
type HeatStatus string

const (
	HeatStatusOpen   HeatStatus = "open"
	HeatStatusClosed HeatStatus = "closed"
)

// HeatEntry is one slot assignment in a heat. Either Participant is set, or
// Placeholder carries an unresolved "winner of round R heat H position P"
// reference that qualifier propagation resolves when the source heat closes.
type HeatEntry struct {
	Position    int    `json:"position"`
	SlotCode    string `json:"slot_code"` // jersey color, e.g. RED
	Participant string `json:"participant,omitempty"`
	Seed        int    `json:"seed,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`

	// Structured source reference; when zero-valued the Placeholder string
	// is parsed instead.
	SourceRound    int `json:"source_round,omitempty"`
	SourceHeat     int `json:"source_heat,omitempty"`
	SourcePosition int `json:"source_position,omitempty"`
}

// Heat is one scored unit of competition. Heats are never destroyed, only
// status-transitioned.
type Heat struct {
	ID          string      `json:"id"`
	Competition string      `json:"competition"`
	Division    string      `json:"division"`
	Round       int         `json:"round"`
	Number      int         `json:"number"`
	Status      HeatStatus  `json:"status"`
	Entries     []HeatEntry `json:"entries"`
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeHeatID lower-cases, trims and underscore-joins a raw heat id.
// All heat-id comparisons and lookups go through this; legacy non-normalized
// ids still exist in historical data and are tolerated on read by querying
// both forms.
func NormalizeHeatID(raw string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "_")
}

// HeatID builds the deterministic heat identifier from its coordinates.
func HeatID(competition, division string, round, number int) string {
	return NormalizeHeatID(fmt.Sprintf("%s_%s_r%d_h%d", competition, division, round, number))
}
