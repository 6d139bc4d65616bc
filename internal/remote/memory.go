package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wavecrest/heatsync/internal/models"
)

// Memory implements Store and ChangeFeed in-process. It backs unit tests
// and lets a client run fully offline against a local authoritative copy.
type Memory struct {
	mu        sync.Mutex
	scores    map[uuid.UUID]models.Score
	scoreSeq  []uuid.UUID
	overrides map[uuid.UUID]models.OverrideLog
	overSeq   []uuid.UUID
	heats     map[string]models.Heat
	configs   map[string]models.HeatRealtimeConfig

	scoreSubs  map[string]map[int]func(models.Score)
	configSubs map[string]map[int]func(models.HeatRealtimeConfig)
	nextSub    int

	// Offline simulates a connectivity outage: every call fails with
	// ErrUnavailable while set.
	offline bool

	// FailUpserts makes the next n upserts fail, for retry-path tests.
	failUpserts int
}

func NewMemory() *Memory {
	return &Memory{
		scores:     make(map[uuid.UUID]models.Score),
		overrides:  make(map[uuid.UUID]models.OverrideLog),
		heats:      make(map[string]models.Heat),
		configs:    make(map[string]models.HeatRealtimeConfig),
		scoreSubs:  make(map[string]map[int]func(models.Score)),
		configSubs: make(map[string]map[int]func(models.HeatRealtimeConfig)),
	}
}

// SetOffline toggles the simulated outage.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

// FailNextUpserts makes the next n upserts return ErrUnavailable.
func (m *Memory) FailNextUpserts(n int) {
	m.mu.Lock()
	m.failUpserts = n
	m.mu.Unlock()
}

func (m *Memory) checkUp() error {
	if m.offline {
		return fmt.Errorf("%w: simulated offline", ErrUnavailable)
	}
	return nil
}

func (m *Memory) checkUpsert() error {
	if err := m.checkUp(); err != nil {
		return err
	}
	if m.failUpserts > 0 {
		m.failUpserts--
		return fmt.Errorf("%w: injected failure", ErrUnavailable)
	}
	return nil
}

func (m *Memory) UpsertScore(ctx context.Context, s models.Score) error {
	m.mu.Lock()
	if err := m.checkUpsert(); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, ok := m.heats[models.NormalizeHeatID(s.HeatID)]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("upsert score %s: %w", s.ID, ErrHeatNotFound)
	}
	if _, exists := m.scores[s.ID]; !exists {
		m.scoreSeq = append(m.scoreSeq, s.ID)
	}
	m.scores[s.ID] = s
	subs := m.scoreSubs[models.NormalizeHeatID(s.HeatID)]
	fns := make([]func(models.Score), 0, len(subs))
	for _, fn := range subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
	return nil
}

func (m *Memory) ScoresByHeat(ctx context.Context, heatID string) ([]models.Score, error) {
	return m.ScoresByHeats(ctx, []string{heatID})
}

func (m *Memory) ScoresByHeats(_ context.Context, heatIDs []string) ([]models.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUp(); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(heatIDs))
	for _, id := range heatIDs {
		want[models.NormalizeHeatID(id)] = true
	}
	var out []models.Score
	for _, id := range m.scoreSeq {
		s := m.scores[id]
		if want[models.NormalizeHeatID(s.HeatID)] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) UpsertOverride(_ context.Context, o models.OverrideLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUpsert(); err != nil {
		return err
	}
	if _, exists := m.overrides[o.ID]; !exists {
		m.overSeq = append(m.overSeq, o.ID)
	}
	o.Synced = true
	m.overrides[o.ID] = o
	return nil
}

func (m *Memory) OverridesByHeat(_ context.Context, heatID string) ([]models.OverrideLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUp(); err != nil {
		return nil, err
	}
	key := models.NormalizeHeatID(heatID)
	var out []models.OverrideLog
	for _, id := range m.overSeq {
		o := m.overrides[id]
		if models.NormalizeHeatID(o.HeatID) == key {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Memory) UpsertHeat(_ context.Context, h models.Heat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUpsert(); err != nil {
		return err
	}
	m.heats[models.NormalizeHeatID(h.ID)] = h
	return nil
}

func (m *Memory) Heat(_ context.Context, heatID string) (*models.Heat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUp(); err != nil {
		return nil, err
	}
	h, ok := m.heats[models.NormalizeHeatID(heatID)]
	if !ok {
		return nil, fmt.Errorf("heat %q: %w", heatID, ErrHeatNotFound)
	}
	return &h, nil
}

func (m *Memory) HeatsByDivision(_ context.Context, competition, division string) ([]models.Heat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUp(); err != nil {
		return nil, err
	}
	var out []models.Heat
	for _, h := range m.heats {
		if h.Competition == competition && h.Division == division {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (m *Memory) ReplaceHeatEntries(_ context.Context, heatID string, entries []models.HeatEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUpsert(); err != nil {
		return err
	}
	key := models.NormalizeHeatID(heatID)
	h, ok := m.heats[key]
	if !ok {
		return fmt.Errorf("heat %q: %w", heatID, ErrHeatNotFound)
	}
	h.Entries = entries
	m.heats[key] = h
	return nil
}

func (m *Memory) UpsertHeatConfig(_ context.Context, c models.HeatRealtimeConfig) (models.HeatRealtimeConfig, error) {
	m.mu.Lock()
	if err := m.checkUpsert(); err != nil {
		m.mu.Unlock()
		return models.HeatRealtimeConfig{}, err
	}
	c.UpdatedAt = time.Now().UTC()
	key := models.NormalizeHeatID(c.HeatID)
	m.configs[key] = c
	subs := m.configSubs[key]
	fns := make([]func(models.HeatRealtimeConfig), 0, len(subs))
	for _, fn := range subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
	return c, nil
}

func (m *Memory) HeatConfig(_ context.Context, heatID string) (*models.HeatRealtimeConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUp(); err != nil {
		return nil, err
	}
	c, ok := m.configs[models.NormalizeHeatID(heatID)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) SubscribeScores(_ context.Context, heatID string, fn func(models.Score)) (Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUp(); err != nil {
		return nil, err
	}
	key := models.NormalizeHeatID(heatID)
	if m.scoreSubs[key] == nil {
		m.scoreSubs[key] = make(map[int]func(models.Score))
	}
	id := m.nextSub
	m.nextSub++
	m.scoreSubs[key][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.scoreSubs[key], id)
			m.mu.Unlock()
		})
	}, nil
}

func (m *Memory) SubscribeConfig(_ context.Context, heatID string, fn func(models.HeatRealtimeConfig)) (Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUp(); err != nil {
		return nil, err
	}
	key := models.NormalizeHeatID(heatID)
	if m.configSubs[key] == nil {
		m.configSubs[key] = make(map[int]func(models.HeatRealtimeConfig))
	}
	id := m.nextSub
	m.nextSub++
	m.configSubs[key][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.configSubs[key], id)
			m.mu.Unlock()
		})
	}, nil
}

// ScoreSubscriberCount reports live score subscriptions for a heat. Test
// hook for leak checks.
func (m *Memory) ScoreSubscriberCount(heatID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scoreSubs[models.NormalizeHeatID(heatID)])
}
