package progression

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavecrest/heatsync/internal/broadcast"
	"github.com/wavecrest/heatsync/internal/events"
	"github.com/wavecrest/heatsync/internal/models"
	"github.com/wavecrest/heatsync/internal/remote"
	"github.com/wavecrest/heatsync/internal/store"
)

type fixture struct {
	local   store.Store
	rem     *remote.Memory
	clock   *clockwork.FakeClock
	channel *broadcast.Channel
	machine *Machine
}

// bestWaveRanker ranks surfers by their single best canonical score, which is
// enough structure for progression tests.
var bestWaveRanker = RankerFunc(func(_ context.Context, heat models.Heat, scores []models.CanonicalScore) ([]RankedSurfer, error) {
	best := make(map[string]float64)
	for _, s := range scores {
		if s.Value > best[s.Surfer] {
			best[s.Surfer] = s.Value
		}
	}
	var out []RankedSurfer
	for _, e := range heat.Entries {
		out = append(out, RankedSurfer{Surfer: e.SlotCode})
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if best[out[j].Surfer] > best[out[i].Surfer] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
})

func newFixture(t *testing.T) *fixture {
	t.Helper()
	local, err := store.OpenJSONL(filepath.Join(t.TempDir(), "fallback"))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	rem := remote.NewMemory()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	channel := broadcast.NewChannel(local, rem, rem, "head-judge")
	return &fixture{
		local:   local,
		rem:     rem,
		clock:   clock,
		channel: channel,
		machine: NewMachine(local, rem, channel, bestWaveRanker, clock),
	}
}

func (f *fixture) putScore(t *testing.T, heatID, judge, surfer string, wave int, value float64) {
	t.Helper()
	require.NoError(t, f.local.PutScore(context.Background(), models.Score{
		ID:        uuid.New(),
		HeatID:    heatID,
		JudgeID:   judge,
		Surfer:    surfer,
		Wave:      wave,
		Value:     value,
		Timestamp: f.clock.Now().UTC(),
	}))
}

func openHeat(competition, division string, round, number int, entries []models.HeatEntry) models.Heat {
	return models.Heat{
		ID:          models.HeatID(competition, division, round, number),
		Competition: competition,
		Division:    division,
		Round:       round,
		Number:      number,
		Status:      models.HeatStatusOpen,
		Entries:     entries,
	}
}

func seededEntries(names ...string) []models.HeatEntry {
	colors := []string{"RED", "BLUE", "YELLOW", "WHITE"}
	out := make([]models.HeatEntry, len(names))
	for i, n := range names {
		out[i] = models.HeatEntry{Position: i + 1, SlotCode: colors[i], Participant: n, Seed: i + 1}
	}
	return out
}

func TestTimerPauseKeepsRemainingDuration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cfg, err := f.machine.ResetTimer(ctx, "heat_a", 20*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.TimerStatusWaiting, cfg.Status)

	cfg, err = f.machine.StartTimer(ctx, "heat_a", 0)
	require.NoError(t, err)
	assert.Equal(t, models.TimerStatusRunning, cfg.Status)
	require.NotNil(t, cfg.TimerStartedAt)
	assert.Equal(t, 20*time.Minute, cfg.TimerDuration)

	f.clock.Advance(5 * time.Minute)
	cfg, err = f.machine.PauseTimer(ctx, "heat_a")
	require.NoError(t, err)
	assert.Equal(t, models.TimerStatusPaused, cfg.Status)
	assert.Nil(t, cfg.TimerStartedAt)
	assert.Equal(t, 15*time.Minute, cfg.TimerDuration)

	// a long pause must not eat into the heat
	f.clock.Advance(30 * time.Minute)
	cfg, err = f.machine.ResumeTimer(ctx, "heat_a")
	require.NoError(t, err)
	assert.Equal(t, models.TimerStatusRunning, cfg.Status)
	assert.Equal(t, 15*time.Minute, cfg.Remaining(f.clock.Now()))

	f.clock.Advance(15 * time.Minute)
	assert.Equal(t, time.Duration(0), cfg.Remaining(f.clock.Now()))
}

func TestTimerRedundantTransitionsAreNoOps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	started, err := f.machine.StartTimer(ctx, "heat_a", 20*time.Minute)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	again, err := f.machine.StartTimer(ctx, "heat_a", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, started.TimerStartedAt, again.TimerStartedAt, "second start must not rebase the timer")
	assert.Equal(t, 20*time.Minute, again.TimerDuration)

	// pausing a waiting heat changes nothing
	_, err = f.machine.ResetTimer(ctx, "heat_b", 20*time.Minute)
	require.NoError(t, err)
	cfg, err := f.machine.PauseTimer(ctx, "heat_b")
	require.NoError(t, err)
	assert.Equal(t, models.TimerStatusWaiting, cfg.Status)

	cfg, err = f.machine.ResumeTimer(ctx, "heat_b")
	require.NoError(t, err)
	assert.Equal(t, models.TimerStatusWaiting, cfg.Status)
}

func TestCloseHeatPropagatesQualifiers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r1h1 := openHeat("pipeline", "open", 1, 1, seededEntries("Ada", "Grace", "Joan", "Mary"))
	r2h1 := openHeat("pipeline", "open", 2, 1, []models.HeatEntry{
		{Position: 1, SlotCode: "RED", Placeholder: "R1-H2-P1"},
		{Position: 2, SlotCode: "BLUE", Placeholder: "R1-H1-P1"},
	})
	require.NoError(t, f.rem.UpsertHeat(ctx, r1h1))
	require.NoError(t, f.rem.UpsertHeat(ctx, r2h1))

	// RED (Ada) posts the best wave, BLUE second
	f.putScore(t, r1h1.ID, "J1", "RED", 1, 9.5)
	f.putScore(t, r1h1.ID, "J1", "BLUE", 1, 7.0)
	f.putScore(t, r1h1.ID, "J1", "YELLOW", 1, 4.0)

	result, err := f.machine.CloseHeat(ctx, r1h1.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Warning)
	assert.Empty(t, result.Failed)
	require.NotEmpty(t, result.Ranking)
	assert.Equal(t, "RED", result.Ranking[0].Surfer)

	assert.Equal(t, []string{r2h1.ID}, result.Propagated)
	got, err := f.rem.Heat(ctx, r2h1.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Entries[0].Participant, "slot sourced from an unclosed heat stays empty")
	assert.Equal(t, "Ada", got.Entries[1].Participant)
	assert.Equal(t, 1, got.Entries[1].Seed)

	// the semifinal becomes the active heat
	require.NotNil(t, result.NextHeat)
	assert.Equal(t, r2h1.ID, result.NextHeat.ID)
	snap, err := f.rem.HeatConfig(ctx, r2h1.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, models.TimerStatusWaiting, snap.Status)
}

func TestCloseHeatWritesQualifierToEveryReferencingHeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r1h1 := openHeat("pipeline", "open", 1, 1, seededEntries("Ada", "Grace"))
	r2h1 := openHeat("pipeline", "open", 2, 1, []models.HeatEntry{
		{Position: 1, SlotCode: "RED", SourceRound: 1, SourceHeat: 1, SourcePosition: 1},
	})
	r2h2 := openHeat("pipeline", "open", 2, 2, []models.HeatEntry{
		{Position: 1, SlotCode: "RED", Placeholder: "R1 - H1 (P2)"},
	})
	require.NoError(t, f.rem.UpsertHeat(ctx, r1h1))
	require.NoError(t, f.rem.UpsertHeat(ctx, r2h1))
	require.NoError(t, f.rem.UpsertHeat(ctx, r2h2))

	f.putScore(t, r1h1.ID, "J1", "RED", 1, 8.0)
	f.putScore(t, r1h1.ID, "J1", "BLUE", 1, 6.0)

	result, err := f.machine.CloseHeat(ctx, r1h1.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{r2h1.ID, r2h2.ID}, result.Propagated)

	first, err := f.rem.Heat(ctx, r2h1.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", first.Entries[0].Participant)

	second, err := f.rem.Heat(ctx, r2h2.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace", second.Entries[0].Participant)
}

func TestCloseHeatWithoutScoresSkipsPropagation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r1h1 := openHeat("pipeline", "open", 1, 1, seededEntries("Ada", "Grace"))
	r2h1 := openHeat("pipeline", "open", 2, 1, []models.HeatEntry{
		{Position: 1, SlotCode: "RED", Placeholder: "R1-H1-P1"},
	})
	require.NoError(t, f.rem.UpsertHeat(ctx, r1h1))
	require.NoError(t, f.rem.UpsertHeat(ctx, r2h1))

	result, err := f.machine.CloseHeat(ctx, r1h1.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Warning)
	assert.Empty(t, result.Ranking)
	assert.Empty(t, result.Propagated)

	got, err := f.rem.Heat(ctx, r2h1.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Entries[0].Participant, "placeholder must stay untouched")
	assert.Equal(t, "R1-H1-P1", got.Entries[0].Placeholder)
}

func TestCloseHeatIsolatesFailedTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r1h1 := openHeat("pipeline", "open", 1, 1, seededEntries("Ada", "Grace"))
	r2h1 := openHeat("pipeline", "open", 2, 1, []models.HeatEntry{
		{Position: 1, SlotCode: "RED", Placeholder: "R1-H1-P1"},
	})
	r2h2 := openHeat("pipeline", "open", 2, 2, []models.HeatEntry{
		{Position: 1, SlotCode: "RED", Placeholder: "R1-H1-P2"},
	})
	require.NoError(t, f.rem.UpsertHeat(ctx, r1h1))
	require.NoError(t, f.rem.UpsertHeat(ctx, r2h1))
	require.NoError(t, f.rem.UpsertHeat(ctx, r2h2))

	f.putScore(t, r1h1.ID, "J1", "RED", 1, 8.0)
	f.putScore(t, r1h1.ID, "J1", "BLUE", 1, 6.0)

	// upserts during close: finished config, closed heat, then one
	// replace-entries per target in (round, number) order
	f.rem.FailNextUpserts(3)

	result, err := f.machine.CloseHeat(ctx, r1h1.ID)
	require.NoError(t, err)
	assert.Contains(t, result.Failed, r2h1.ID)
	assert.Equal(t, []string{r2h2.ID}, result.Propagated)

	untouched, err := f.rem.Heat(ctx, r2h1.ID)
	require.NoError(t, err)
	assert.Empty(t, untouched.Entries[0].Participant)

	written, err := f.rem.Heat(ctx, r2h2.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace", written.Entries[0].Participant)
}

func TestCloseHeatSurfacesUnresolvablePlaceholders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r1h1 := openHeat("pipeline", "open", 1, 1, seededEntries("Ada", "Grace"))
	r2h1 := openHeat("pipeline", "open", 2, 1, []models.HeatEntry{
		{Position: 1, SlotCode: "RED", Placeholder: "winner of quarterfinal two"},
		{Position: 2, SlotCode: "BLUE", Placeholder: "R1-H1-P1"},
	})
	require.NoError(t, f.rem.UpsertHeat(ctx, r1h1))
	require.NoError(t, f.rem.UpsertHeat(ctx, r2h1))

	f.putScore(t, r1h1.ID, "J1", "RED", 1, 8.0)

	result, err := f.machine.CloseHeat(ctx, r1h1.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"winner of quarterfinal two"}, result.Unresolved)

	got, err := f.rem.Heat(ctx, r2h1.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Entries[0].Participant)
	assert.Equal(t, "Ada", got.Entries[1].Participant)
}

func TestCloseHeatAnnouncesRankingAndNextHeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r1h1 := openHeat("pipeline", "open", 1, 1, seededEntries("Ada", "Grace"))
	r1h2 := openHeat("pipeline", "open", 1, 2, seededEntries("Joan", "Mary"))
	require.NoError(t, f.rem.UpsertHeat(ctx, r1h1))
	require.NoError(t, f.rem.UpsertHeat(ctx, r1h2))
	f.putScore(t, r1h1.ID, "J1", "RED", 1, 8.0)
	f.putScore(t, r1h1.ID, "J1", "BLUE", 1, 6.0)

	var announced []events.HeatClosedPayload
	unsub, err := f.channel.Subscribe(ctx, r1h1.ID, broadcast.Handlers{
		OnClosed: func(p events.HeatClosedPayload) { announced = append(announced, p) },
	})
	require.NoError(t, err)
	defer unsub()

	_, err = f.machine.CloseHeat(ctx, r1h1.ID)
	require.NoError(t, err)

	// clients watching the closed heat learn the ranking and the next heat id
	require.Len(t, announced, 1)
	assert.Equal(t, r1h1.ID, announced[0].HeatID)
	assert.Equal(t, []string{"RED", "BLUE"}, announced[0].Ranking)
	assert.Equal(t, r1h2.ID, announced[0].NextHeatID)
	assert.Equal(t, f.clock.Now().UTC(), announced[0].ClosedAt)
}

func TestCloseHeatTwiceLeavesBracketUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r1h1 := openHeat("pipeline", "open", 1, 1, seededEntries("Ada", "Grace"))
	r2h1 := openHeat("pipeline", "open", 2, 1, []models.HeatEntry{
		{Position: 1, SlotCode: "RED", Placeholder: "R1-H1-P1"},
	})
	require.NoError(t, f.rem.UpsertHeat(ctx, r1h1))
	require.NoError(t, f.rem.UpsertHeat(ctx, r2h1))

	f.putScore(t, r1h1.ID, "J1", "RED", 1, 8.0)
	f.putScore(t, r1h1.ID, "J1", "BLUE", 1, 6.0)

	first, err := f.machine.CloseHeat(ctx, r1h1.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{r2h1.ID}, first.Propagated)

	// a late score that would flip the ranking must not be re-applied
	f.putScore(t, r1h1.ID, "J1", "BLUE", 2, 9.5)

	second, err := f.machine.CloseHeat(ctx, r1h1.ID)
	require.NoError(t, err)
	assert.Equal(t, "heat already closed", second.Warning)
	assert.Empty(t, second.Ranking)
	assert.Empty(t, second.Propagated)

	got, err := f.rem.Heat(ctx, r2h1.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Entries[0].Participant)
}

func TestCloseLastHeatLeavesDivisionDone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	final := openHeat("pipeline", "open", 3, 1, seededEntries("Ada", "Grace"))
	require.NoError(t, f.rem.UpsertHeat(ctx, final))
	f.putScore(t, final.ID, "J1", "RED", 1, 8.0)

	result, err := f.machine.CloseHeat(ctx, final.ID)
	require.NoError(t, err)
	assert.Nil(t, result.NextHeat, "no automatic division switch")

	got, err := f.rem.Heat(ctx, final.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HeatStatusClosed, got.Status)
}
