package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavecrest/heatsync/internal/models"
	"github.com/wavecrest/heatsync/internal/remote"
	"github.com/wavecrest/heatsync/internal/store"
)

func newLocal(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenJSONL(filepath.Join(t.TempDir(), "fallback"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func submitReq() SubmitScoreRequest {
	return SubmitScoreRequest{
		HeatID:      "Pipe Masters_Open_R1_H1",
		Competition: "pipe_masters",
		Division:    "open",
		Round:       1,
		JudgeID:     "J1",
		JudgeName:   "Judge One",
		Surfer:      "RED",
		Wave:        1,
		Value:       7.5,
	}
}

func TestSubmitScoreRejectsOutOfRange(t *testing.T) {
	svc := NewService(newLocal(t), remote.NewMemory(), clockwork.NewFakeClock())

	for _, v := range []float64{-0.1, 10.1, 99} {
		req := submitReq()
		req.Value = v
		_, err := svc.SubmitScore(context.Background(), req)
		assert.ErrorIs(t, err, ErrScoreOutOfRange, "value %v", v)
	}

	// nothing was written
	pending, err := svc.local.UnsyncedScores(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSubmitScoreOnlineSyncsAndRepairsHeat(t *testing.T) {
	ctx := context.Background()
	rem := remote.NewMemory() // heat does not exist remotely yet
	svc := NewService(newLocal(t), rem, clockwork.NewFakeClock())

	sc, err := svc.SubmitScore(ctx, submitReq())
	require.NoError(t, err)
	assert.True(t, sc.Synced)
	assert.Equal(t, "pipe_masters_open_r1_h1", sc.HeatID)

	// parent heat was auto-created with a minimal row
	h, err := rem.Heat(ctx, "pipe_masters_open_r1_h1")
	require.NoError(t, err)
	assert.Equal(t, models.HeatStatusOpen, h.Status)

	remoteScores, err := rem.ScoresByHeat(ctx, sc.HeatID)
	require.NoError(t, err)
	require.Len(t, remoteScores, 1)
	assert.Equal(t, sc.ID, remoteScores[0].ID)

	pending, err := svc.local.UnsyncedScores(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSubmitScoreOfflineIsOptimisticLocalSuccess(t *testing.T) {
	ctx := context.Background()
	rem := remote.NewMemory()
	rem.SetOffline(true)
	svc := NewService(newLocal(t), rem, clockwork.NewFakeClock())

	sc, err := svc.SubmitScore(ctx, submitReq())
	require.NoError(t, err)
	assert.False(t, sc.Synced)

	// retrievable immediately with synced=false
	local, err := svc.local.ScoresByHeat(ctx, sc.HeatID)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, sc.ID, local[0].ID)
	assert.False(t, local[0].Synced)
}

func TestSubmitScoreWithoutRemoteBackend(t *testing.T) {
	svc := NewService(newLocal(t), nil, clockwork.NewFakeClock())
	sc, err := svc.SubmitScore(context.Background(), submitReq())
	require.NoError(t, err)
	assert.False(t, sc.Synced)
}

func TestNotifierDelivery(t *testing.T) {
	svc := NewService(newLocal(t), remote.NewMemory(), clockwork.NewFakeClock())

	var got []models.Score
	unsub := svc.Notifier().Subscribe(func(s models.Score) { got = append(got, s) })

	_, err := svc.SubmitScore(context.Background(), submitReq())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 7.5, got[0].Value)

	unsub()
	unsub() // idempotent
	assert.Equal(t, 0, svc.Notifier().Len())

	_, err = svc.SubmitScore(context.Background(), submitReq())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
