package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/wavecrest/heatsync/internal/models"
)

// JSONL is the flat serialized fallback substrate: a single append-only log
// of JSON records replayed into memory on open. It exists for devices where
// sqlite cannot be opened; durability comes from the append, queries are
// served from the in-memory replay.
type JSONL struct {
	mu   sync.Mutex
	file *os.File

	scores    []models.Score
	overrides []models.OverrideLog
	configs   map[string]models.HeatRealtimeConfig
}

type jsonlRecord struct {
	Type     string                     `json:"type"`
	Score    *models.Score              `json:"score,omitempty"`
	Override *models.OverrideLog        `json:"override,omitempty"`
	Config   *models.HeatRealtimeConfig `json:"config,omitempty"`
	ID       string                     `json:"id,omitempty"`
}

// OpenJSONL opens the fallback log under dir, creating it if needed, and
// replays any existing records.
func OpenJSONL(dir string) (*JSONL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create fallback dir: %w", err)
	}
	path := filepath.Join(dir, "records.jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open fallback log: %w", err)
	}

	j := &JSONL{
		file:    file,
		configs: make(map[string]models.HeatRealtimeConfig),
	}
	if err := j.replay(); err != nil {
		file.Close()
		return nil, err
	}
	return j, nil
}

func (j *JSONL) replay() error {
	if _, err := j.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek fallback log: %w", err)
	}
	scanner := bufio.NewScanner(j.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn tail write from a crash is tolerated; everything before
			// it replays normally.
			continue
		}
		j.apply(rec)
	}
	return scanner.Err()
}

func (j *JSONL) apply(rec jsonlRecord) {
	switch rec.Type {
	case "score":
		if rec.Score != nil {
			j.scores = append(j.scores, *rec.Score)
		}
	case "score_synced":
		for i := range j.scores {
			if j.scores[i].ID.String() == rec.ID {
				j.scores[i].Synced = true
			}
		}
	case "override":
		if rec.Override != nil {
			j.overrides = append(j.overrides, *rec.Override)
		}
	case "override_synced":
		for i := range j.overrides {
			if j.overrides[i].ID.String() == rec.ID {
				j.overrides[i].Synced = true
			}
		}
	case "config":
		if rec.Config != nil {
			j.configs[models.NormalizeHeatID(rec.Config.HeatID)] = *rec.Config
		}
	}
}

func (j *JSONL) append(rec jsonlRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal fallback record: %w", err)
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append fallback record: %w", err)
	}
	j.apply(rec)
	return nil
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

func (j *JSONL) PutScore(_ context.Context, s models.Score) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.append(jsonlRecord{Type: "score", Score: &s})
}

func (j *JSONL) ScoresByHeat(ctx context.Context, heatID string) ([]models.Score, error) {
	return j.ScoresByHeats(ctx, []string{heatID})
}

func (j *JSONL) ScoresByHeats(_ context.Context, heatIDs []string) ([]models.Score, error) {
	want := make(map[string]bool, len(heatIDs))
	for _, id := range heatIDs {
		want[models.NormalizeHeatID(id)] = true
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []models.Score
	for _, s := range j.scores {
		if want[models.NormalizeHeatID(s.HeatID)] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (j *JSONL) UnsyncedScores(_ context.Context) ([]models.Score, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []models.Score
	for _, s := range j.scores {
		if !s.Synced {
			out = append(out, s)
		}
	}
	return out, nil
}

func (j *JSONL) MarkScoreSynced(_ context.Context, id uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.append(jsonlRecord{Type: "score_synced", ID: id.String()})
}

func (j *JSONL) PutOverride(_ context.Context, o models.OverrideLog) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.append(jsonlRecord{Type: "override", Override: &o})
}

func (j *JSONL) OverridesByHeat(_ context.Context, heatID string) ([]models.OverrideLog, error) {
	key := models.NormalizeHeatID(heatID)
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []models.OverrideLog
	for _, o := range j.overrides {
		if models.NormalizeHeatID(o.HeatID) == key {
			out = append(out, o)
		}
	}
	return out, nil
}

func (j *JSONL) UnsyncedOverrides(_ context.Context) ([]models.OverrideLog, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []models.OverrideLog
	for _, o := range j.overrides {
		if !o.Synced {
			out = append(out, o)
		}
	}
	return out, nil
}

func (j *JSONL) MarkOverrideSynced(_ context.Context, id uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.append(jsonlRecord{Type: "override_synced", ID: id.String()})
}

func (j *JSONL) PutHeatConfig(_ context.Context, c models.HeatRealtimeConfig) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.append(jsonlRecord{Type: "config", Config: &c})
}

func (j *JSONL) HeatConfig(_ context.Context, heatID string) (*models.HeatRealtimeConfig, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	cfg, ok := j.configs[models.NormalizeHeatID(heatID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &cfg, nil
}
