package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavecrest/heatsync/internal/models"
)

func sampleScore(heatID string) models.Score {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return models.Score{
		ID:          uuid.New(),
		HeatID:      heatID,
		Competition: "pipe_masters",
		Division:    "open",
		Round:       1,
		JudgeID:     "J1",
		JudgeName:   "Judge One",
		Surfer:      "RED",
		Wave:        1,
		Value:       7.5,
		Timestamp:   now,
		PersistedAt: now,
	}
}

func sampleOverride(heatID string, scoreID uuid.UUID) models.OverrideLog {
	prev := 6.0
	return models.OverrideLog{
		ID:            uuid.New(),
		HeatID:        heatID,
		ScoreID:       scoreID,
		JudgeID:       "J1",
		Surfer:        "RED",
		Wave:          1,
		PreviousValue: &prev,
		NewValue:      7.5,
		Reason:        models.OverrideReasonJudgeError,
		Comment:       "misread the spray",
		Actor:         "chief",
		CreatedAt:     time.Date(2026, 3, 14, 9, 31, 0, 0, time.UTC),
	}
}

// Both substrates must satisfy the same contract.
func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	sq, err := OpenSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	jl, err := OpenJSONL(filepath.Join(dir, "fallback"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close(); jl.Close() })
	return map[string]Store{"sqlite": sq, "jsonl": jl}
}

func TestScoreRoundTrip(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sc := sampleScore("pipe_masters_open_r1_h1")
			require.NoError(t, s.PutScore(ctx, sc))

			got, err := s.ScoresByHeat(ctx, "pipe_masters_open_r1_h1")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, sc.ID, got[0].ID)
			assert.Equal(t, sc.Value, got[0].Value)
			assert.False(t, got[0].Synced)

			unsynced, err := s.UnsyncedScores(ctx)
			require.NoError(t, err)
			require.Len(t, unsynced, 1)

			require.NoError(t, s.MarkScoreSynced(ctx, sc.ID))
			unsynced, err = s.UnsyncedScores(ctx)
			require.NoError(t, err)
			assert.Empty(t, unsynced)

			// Value and identity untouched by the synced flip.
			got, err = s.ScoresByHeat(ctx, "pipe_masters_open_r1_h1")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, sc.ID, got[0].ID)
			assert.Equal(t, sc.Value, got[0].Value)
			assert.True(t, got[0].Synced)
		})
	}
}

func TestScoresByHeatToleratesLegacyIDs(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.PutScore(ctx, sampleScore(" Pipe Masters_Open_R1_H1 ")))

			got, err := s.ScoresByHeat(ctx, "pipe_masters_open_r1_h1")
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestScoresByHeatsBatch(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.PutScore(ctx, sampleScore("heat_a")))
			require.NoError(t, s.PutScore(ctx, sampleScore("heat_b")))
			require.NoError(t, s.PutScore(ctx, sampleScore("heat_c")))

			got, err := s.ScoresByHeats(ctx, []string{"heat_a", "heat_c"})
			require.NoError(t, err)
			assert.Len(t, got, 2)
		})
	}
}

func TestAppendOnlyDuplicateLogicalKeys(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := sampleScore("heat_a")
			b := sampleScore("heat_a") // same logical key, fresh identity
			require.NoError(t, s.PutScore(ctx, a))
			require.NoError(t, s.PutScore(ctx, b))

			got, err := s.ScoresByHeat(ctx, "heat_a")
			require.NoError(t, err)
			assert.Len(t, got, 2)
		})
	}
}

func TestOverrideRoundTrip(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			o := sampleOverride("heat_a", uuid.New())
			require.NoError(t, s.PutOverride(ctx, o))

			got, err := s.OverridesByHeat(ctx, "heat_a")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, o.ID, got[0].ID)
			require.NotNil(t, got[0].PreviousValue)
			assert.Equal(t, 6.0, *got[0].PreviousValue)

			require.NoError(t, s.MarkOverrideSynced(ctx, o.ID))
			unsynced, err := s.UnsyncedOverrides(ctx)
			require.NoError(t, err)
			assert.Empty(t, unsynced)
		})
	}
}

func TestHeatConfigUpsert(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.HeatConfig(ctx, "heat_a")
			assert.ErrorIs(t, err, ErrNotFound)

			cfg := models.HeatRealtimeConfig{
				HeatID:        "heat_a",
				Status:        models.TimerStatusWaiting,
				TimerDuration: 20 * time.Minute,
				LastWriter:    "judge-1",
				UpdatedAt:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
			}
			require.NoError(t, s.PutHeatConfig(ctx, cfg))

			cfg.Status = models.TimerStatusRunning
			cfg.LastWriter = "judge-2"
			require.NoError(t, s.PutHeatConfig(ctx, cfg))

			got, err := s.HeatConfig(ctx, "heat_a")
			require.NoError(t, err)
			assert.Equal(t, models.TimerStatusRunning, got.Status)
			assert.Equal(t, "judge-2", got.LastWriter)
		})
	}
}

func TestJSONLSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	j, err := OpenJSONL(dir)
	require.NoError(t, err)
	sc := sampleScore("heat_a")
	require.NoError(t, j.PutScore(ctx, sc))
	require.NoError(t, j.MarkScoreSynced(ctx, sc.ID))
	require.NoError(t, j.Close())

	j, err = OpenJSONL(dir)
	require.NoError(t, err)
	defer j.Close()

	got, err := j.ScoresByHeat(ctx, "heat_a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Synced)
}

func TestOpenFallsBackWhenSQLiteUnavailable(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{
		SQLitePath:  filepath.Join(dir, "missing", "nested", "db.sqlite"),
		FallbackDir: filepath.Join(dir, "fallback"),
	})
	require.NoError(t, err)
	defer s.Close()

	// put must not fail the caller even with the structured substrate absent
	require.NoError(t, s.PutScore(context.Background(), sampleScore("heat_a")))
}

func TestDualReadsPreferPrimary(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sq, err := OpenSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	jl, err := OpenJSONL(filepath.Join(dir, "fallback"))
	require.NoError(t, err)
	d := NewDual(sq, jl)
	defer d.Close()

	sc := sampleScore("heat_a")
	require.NoError(t, d.PutScore(ctx, sc))

	// Both substrates received the write.
	fromPrimary, err := sq.ScoresByHeat(ctx, "heat_a")
	require.NoError(t, err)
	fromSecondary, err := jl.ScoresByHeat(ctx, "heat_a")
	require.NoError(t, err)
	assert.Len(t, fromPrimary, 1)
	assert.Len(t, fromSecondary, 1)
}
