package progression

import (
	"context"
	"sort"

	"github.com/wavecrest/heatsync/internal/models"
)

// RankedSurfer is one row of a heat ranking, best first.
type RankedSurfer struct {
	Surfer string `json:"surfer"` // slot code, e.g. RED
	Rank   int    `json:"rank"`   // 1-based
}

// Ranker computes the ordered ranking for a closed heat from its canonical
// scores. The scoring formula (wave counts, interference calls, tie-breaks)
// lives behind this boundary and is supplied by the scoring backend.
type Ranker interface {
	Rank(ctx context.Context, heat models.Heat, scores []models.CanonicalScore) ([]RankedSurfer, error)
}

// RankerFunc adapts a function to the Ranker interface.
type RankerFunc func(ctx context.Context, heat models.Heat, scores []models.CanonicalScore) ([]RankedSurfer, error)

func (f RankerFunc) Rank(ctx context.Context, heat models.Heat, scores []models.CanonicalScore) ([]RankedSurfer, error) {
	return f(ctx, heat, scores)
}

// BestTwoWaves is the stock ranker: each wave's value is the mean of the
// judge scores for that wave, a surfer's total is the sum of their two best
// waves, ties break by the better single wave and then by seeding order in
// the heat entry list.
func BestTwoWaves() Ranker {
	return RankerFunc(func(_ context.Context, heat models.Heat, scores []models.CanonicalScore) ([]RankedSurfer, error) {
		type waveKey struct {
			surfer string
			wave   int
		}
		sums := make(map[waveKey]float64)
		counts := make(map[waveKey]int)
		for _, s := range scores {
			k := waveKey{surfer: s.Surfer, wave: s.Wave}
			sums[k] += s.Value
			counts[k]++
		}

		waves := make(map[string][]float64)
		for k, sum := range sums {
			waves[k.surfer] = append(waves[k.surfer], sum/float64(counts[k]))
		}

		entryOrder := make(map[string]int, len(heat.Entries))
		out := make([]RankedSurfer, 0, len(heat.Entries))
		totals := make(map[string]float64)
		bests := make(map[string]float64)
		for i, e := range heat.Entries {
			entryOrder[e.SlotCode] = i
			out = append(out, RankedSurfer{Surfer: e.SlotCode})

			vals := waves[e.SlotCode]
			sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
			if len(vals) > 0 {
				bests[e.SlotCode] = vals[0]
				totals[e.SlotCode] = vals[0]
			}
			if len(vals) > 1 {
				totals[e.SlotCode] += vals[1]
			}
		}

		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].Surfer, out[j].Surfer
			if totals[a] != totals[b] {
				return totals[a] > totals[b]
			}
			if bests[a] != bests[b] {
				return bests[a] > bests[b]
			}
			return entryOrder[a] < entryOrder[b]
		})
		for i := range out {
			out[i].Rank = i + 1
		}
		return out, nil
	})
}
