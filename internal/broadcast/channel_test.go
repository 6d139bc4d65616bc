package broadcast

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavecrest/heatsync/internal/events"
	"github.com/wavecrest/heatsync/internal/models"
	"github.com/wavecrest/heatsync/internal/remote"
	"github.com/wavecrest/heatsync/internal/store"
)

func newChannel(t *testing.T, rem *remote.Memory, clientID string) *Channel {
	t.Helper()
	local, err := store.OpenJSONL(filepath.Join(t.TempDir(), "fallback"))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })
	return NewChannel(local, rem, rem, clientID)
}

func waitingConfig(heatID string) models.HeatRealtimeConfig {
	return models.HeatRealtimeConfig{
		HeatID:        heatID,
		Status:        models.TimerStatusWaiting,
		TimerDuration: 20 * time.Minute,
	}
}

func TestPublishConfigStampsWriterAndPersistsLocally(t *testing.T) {
	ctx := context.Background()
	rem := remote.NewMemory()
	ch := newChannel(t, rem, "judge-tablet-3")

	got, err := ch.PublishConfig(ctx, waitingConfig("Heat A"))
	require.NoError(t, err)
	assert.Equal(t, "heat_a", got.HeatID)
	assert.Equal(t, "judge-tablet-3", got.LastWriter)
	assert.False(t, got.UpdatedAt.IsZero())

	snap, err := ch.Snapshot(ctx, "heat_a")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, models.TimerStatusWaiting, snap.Status)
}

func TestPublishConfigLastWriterWins(t *testing.T) {
	ctx := context.Background()
	rem := remote.NewMemory()
	a := newChannel(t, rem, "client-a")
	b := newChannel(t, rem, "client-b")

	_, err := a.PublishConfig(ctx, waitingConfig("heat_a"))
	require.NoError(t, err)

	cfg := waitingConfig("heat_a")
	cfg.Status = models.TimerStatusRunning
	_, err = b.PublishConfig(ctx, cfg)
	require.NoError(t, err)

	snap, err := a.Snapshot(ctx, "heat_a")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, models.TimerStatusRunning, snap.Status)
	assert.Equal(t, "client-b", snap.LastWriter)
}

func TestPublishConfigRemoteOutageKeepsLocalState(t *testing.T) {
	ctx := context.Background()
	rem := remote.NewMemory()
	ch := newChannel(t, rem, "client-a")
	rem.SetOffline(true)

	got, err := ch.PublishConfig(ctx, waitingConfig("heat_a"))
	require.NoError(t, err)
	assert.Equal(t, "client-a", got.LastWriter)

	rem.SetOffline(false) // remote still empty, snapshot falls back to local? no: remote nil config
	snap, err := ch.Snapshot(ctx, "heat_a")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, models.TimerStatusWaiting, snap.Status)
}

func TestSubscribeDeliversSnapshotThenPushes(t *testing.T) {
	ctx := context.Background()
	rem := remote.NewMemory()
	ch := newChannel(t, rem, "client-a")

	// state that exists before the subscription opens
	_, err := ch.PublishConfig(ctx, waitingConfig("heat_a"))
	require.NoError(t, err)

	var configs []models.HeatRealtimeConfig
	var scores []models.Score
	unsub, err := ch.Subscribe(ctx, "heat_a", Handlers{
		OnConfig: func(c models.HeatRealtimeConfig) { configs = append(configs, c) },
		OnScore:  func(s models.Score) { scores = append(scores, s) },
	})
	require.NoError(t, err)
	defer unsub()

	require.Len(t, configs, 1) // the snapshot

	cfg := waitingConfig("heat_a")
	cfg.Status = models.TimerStatusRunning
	_, err = ch.PublishConfig(ctx, cfg)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, models.TimerStatusRunning, configs[1].Status)

	// score arrivals come through the second subscription
	require.NoError(t, rem.UpsertHeat(ctx, models.Heat{ID: "heat_a", Status: models.HeatStatusOpen}))
	require.NoError(t, rem.UpsertScore(ctx, models.Score{HeatID: "heat_a", JudgeID: "J1", Surfer: "RED", Wave: 1, Value: 8.0}))
	require.Len(t, scores, 1)
}

func TestUnsubscribeReleasesEverythingAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rem := remote.NewMemory()
	ch := newChannel(t, rem, "client-a")

	unsub, err := ch.Subscribe(ctx, "heat_a", Handlers{
		OnConfig: func(models.HeatRealtimeConfig) {},
		OnScore:  func(models.Score) {},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rem.ScoreSubscriberCount("heat_a"))

	unsub()
	unsub() // second call is a no-op
	assert.Equal(t, 0, rem.ScoreSubscriberCount("heat_a"))
}

func TestAnnounceCloseReachesOnlyTheClosedHeat(t *testing.T) {
	ctx := context.Background()
	rem := remote.NewMemory()
	ch := newChannel(t, rem, "client-a")

	var got []events.HeatClosedPayload
	unsub, err := ch.Subscribe(ctx, "Heat A", Handlers{
		OnClosed: func(p events.HeatClosedPayload) { got = append(got, p) },
	})
	require.NoError(t, err)

	other, err := ch.Subscribe(ctx, "heat_b", Handlers{
		OnClosed: func(p events.HeatClosedPayload) { t.Error("announcement leaked to another heat") },
	})
	require.NoError(t, err)
	defer other()

	ch.AnnounceClose(events.HeatClosedPayload{
		HeatID:     "Heat A",
		Ranking:    []string{"RED", "BLUE"},
		NextHeatID: "heat_b",
		ClosedAt:   time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	})
	require.Len(t, got, 1)
	assert.Equal(t, "heat_a", got[0].HeatID)
	assert.Equal(t, "heat_b", got[0].NextHeatID)

	// disposed subscribers hear nothing further
	unsub()
	ch.AnnounceClose(events.HeatClosedPayload{HeatID: "heat_a"})
	assert.Len(t, got, 1)
}

func TestSubscribeWithoutFeedStillServesSnapshot(t *testing.T) {
	ctx := context.Background()
	rem := remote.NewMemory()
	local, err := store.OpenJSONL(filepath.Join(t.TempDir(), "fallback"))
	require.NoError(t, err)
	defer local.Close()
	ch := NewChannel(local, rem, nil, "client-a")

	_, err = ch.PublishConfig(ctx, waitingConfig("heat_a"))
	require.NoError(t, err)

	var configs []models.HeatRealtimeConfig
	unsub, err := ch.Subscribe(ctx, "heat_a", Handlers{
		OnConfig: func(c models.HeatRealtimeConfig) { configs = append(configs, c) },
	})
	require.NoError(t, err)
	defer unsub()
	assert.Len(t, configs, 1)
}
