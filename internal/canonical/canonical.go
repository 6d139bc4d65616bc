// Package canonical collapses duplicated raw score rows into the single
// authoritative value per logical key.
package canonical

import (
	"sort"

	"github.com/wavecrest/heatsync/internal/models"
)

// Canonicalize groups raw rows by logical key and keeps, per group, the row
// with the greatest timestamp; timestamp ties go to the row seen later in
// input order (input is assumed append-ordered). Output is sorted by
// timestamp ascending. The function is pure and idempotent: applied to
// already-canonical input it is a no-op.
func Canonicalize(scores []models.Score) []models.CanonicalScore {
	type winner struct {
		score models.Score
		index int
	}
	byKey := make(map[models.LogicalKey]winner, len(scores))
	for i, s := range scores {
		key := s.Key()
		cur, ok := byKey[key]
		if !ok {
			byKey[key] = winner{score: s, index: i}
			continue
		}
		if s.Timestamp.After(cur.score.Timestamp) || s.Timestamp.Equal(cur.score.Timestamp) {
			byKey[key] = winner{score: s, index: i}
		}
	}

	out := make([]models.CanonicalScore, 0, len(byKey))
	for _, w := range byKey {
		out = append(out, models.CanonicalScore{Score: w.score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Find returns the canonical score for one logical key, if present.
func Find(scores []models.Score, key models.LogicalKey) (models.CanonicalScore, bool) {
	for _, c := range Canonicalize(scores) {
		if c.Key() == key {
			return c, true
		}
	}
	return models.CanonicalScore{}, false
}
