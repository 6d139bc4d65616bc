package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wavecrest/heatsync/internal/canonical"
	"github.com/wavecrest/heatsync/internal/ingest"
	"github.com/wavecrest/heatsync/internal/models"
	"github.com/wavecrest/heatsync/internal/override"
	"github.com/wavecrest/heatsync/internal/progression"
	"github.com/wavecrest/heatsync/internal/store"
	"github.com/wavecrest/heatsync/internal/syncer"
)

// API exposes the scoring services as a JSON HTTP surface for judge tablets
// and the head-judge console.
type API struct {
	ingest    *ingest.Service
	overrides *override.Service
	machine   *progression.Machine
	local     store.Store
	cache     *canonical.Cache
	sync      *syncer.Worker
}

func NewAPI(ing *ingest.Service, ovr *override.Service, machine *progression.Machine, local store.Store, cache *canonical.Cache, sync *syncer.Worker) *API {
	return &API{
		ingest:    ing,
		overrides: ovr,
		machine:   machine,
		local:     local,
		cache:     cache,
		sync:      sync,
	}
}

// RegisterRoutes registers the API routes with an HTTP mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/scores", a.handleSubmitScore)
	mux.HandleFunc("POST /api/overrides", a.handleOverrideScore)
	mux.HandleFunc("GET /api/heats/{heat}/scores", a.handleCanonicalScores)
	mux.HandleFunc("GET /api/heats/{heat}/overrides", a.handleOverrideLogs)
	mux.HandleFunc("POST /api/heats/{heat}/timer/start", a.handleTimerStart)
	mux.HandleFunc("POST /api/heats/{heat}/timer/pause", a.handleTimerPause)
	mux.HandleFunc("POST /api/heats/{heat}/timer/resume", a.handleTimerResume)
	mux.HandleFunc("POST /api/heats/{heat}/timer/reset", a.handleTimerReset)
	mux.HandleFunc("POST /api/heats/{heat}/finish", a.handleFinish)
	mux.HandleFunc("POST /api/heats/{heat}/close", a.handleClose)
	mux.HandleFunc("GET /api/sync/status", a.handleSyncStatus)
	mux.HandleFunc("POST /api/sync/drain", a.handleSyncDrain)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ingest.ErrScoreOutOfRange) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type submitScoreBody struct {
	HeatID      string  `json:"heat_id"`
	Competition string  `json:"competition"`
	Division    string  `json:"division"`
	Round       int     `json:"round"`
	JudgeID     string  `json:"judge_id"`
	JudgeName   string  `json:"judge_name"`
	Surfer      string  `json:"surfer"`
	Wave        int     `json:"wave"`
	Value       float64 `json:"value"`
}

func (a *API) handleSubmitScore(w http.ResponseWriter, r *http.Request) {
	var body submitScoreBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	sc, err := a.ingest.SubmitScore(r.Context(), ingest.SubmitScoreRequest{
		HeatID:      body.HeatID,
		Competition: body.Competition,
		Division:    body.Division,
		Round:       body.Round,
		JudgeID:     body.JudgeID,
		JudgeName:   body.JudgeName,
		Surfer:      body.Surfer,
		Wave:        body.Wave,
		Value:       body.Value,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

type overrideScoreBody struct {
	HeatID   string  `json:"heat_id"`
	JudgeID  string  `json:"judge_id"`
	Surfer   string  `json:"surfer"`
	Wave     int     `json:"wave"`
	NewValue float64 `json:"new_value"`
	Reason   string  `json:"reason"`
	Comment  string  `json:"comment"`
	Actor    string  `json:"actor"`
}

func (a *API) handleOverrideScore(w http.ResponseWriter, r *http.Request) {
	var body overrideScoreBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	entry, err := a.overrides.OverrideScore(r.Context(), override.OverrideScoreRequest{
		HeatID:   body.HeatID,
		JudgeID:  body.JudgeID,
		Surfer:   body.Surfer,
		Wave:     body.Wave,
		NewValue: body.NewValue,
		Reason:   models.OverrideReason(body.Reason),
		Comment:  body.Comment,
		Actor:    body.Actor,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleCanonicalScores(w http.ResponseWriter, r *http.Request) {
	heatID := r.PathValue("heat")
	scores, err := a.cache.Get(heatID, func() ([]models.Score, error) {
		return a.local.ScoresByHeat(r.Context(), heatID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

func (a *API) handleOverrideLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := a.overrides.LogsForHeat(r.Context(), r.PathValue("heat"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

type timerBody struct {
	DurationSec int `json:"duration_sec"`
}

func (a *API) timerDuration(r *http.Request) time.Duration {
	var body timerBody
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return 0
		}
	}
	return time.Duration(body.DurationSec) * time.Second
}

func (a *API) timerAction(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, heatID string) (models.HeatRealtimeConfig, error)) {
	cfg, err := run(r.Context(), r.PathValue("heat"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) handleTimerStart(w http.ResponseWriter, r *http.Request) {
	duration := a.timerDuration(r)
	a.timerAction(w, r, func(ctx context.Context, heatID string) (models.HeatRealtimeConfig, error) {
		return a.machine.StartTimer(ctx, heatID, duration)
	})
}

func (a *API) handleTimerPause(w http.ResponseWriter, r *http.Request) {
	a.timerAction(w, r, a.machine.PauseTimer)
}

func (a *API) handleTimerResume(w http.ResponseWriter, r *http.Request) {
	a.timerAction(w, r, a.machine.ResumeTimer)
}

func (a *API) handleTimerReset(w http.ResponseWriter, r *http.Request) {
	duration := a.timerDuration(r)
	a.timerAction(w, r, func(ctx context.Context, heatID string) (models.HeatRealtimeConfig, error) {
		return a.machine.ResetTimer(ctx, heatID, duration)
	})
}

func (a *API) handleFinish(w http.ResponseWriter, r *http.Request) {
	a.timerAction(w, r, a.machine.FinishHeat)
}

func (a *API) handleClose(w http.ResponseWriter, r *http.Request) {
	result, err := a.machine.CloseHeat(r.Context(), r.PathValue("heat"))
	if err != nil {
		writeError(w, err)
		return
	}
	// errors don't marshal, render them as strings
	failed := make(map[string]string, len(result.Failed))
	for target, ferr := range result.Failed {
		failed[target] = ferr.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"heat_id":    result.HeatID,
		"ranking":    result.Ranking,
		"warning":    result.Warning,
		"propagated": result.Propagated,
		"failed":     failed,
		"unresolved": result.Unresolved,
		"next_heat":  result.NextHeat,
	})
}

func (a *API) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	scores, err := a.local.UnsyncedScores(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	overrides, err := a.local.UnsyncedOverrides(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	status := map[string]any{
		"pending_scores":    len(scores),
		"pending_overrides": len(overrides),
	}
	if a.sync != nil {
		if lastErr := a.sync.LastError(); lastErr != nil {
			status["last_error"] = lastErr.Error()
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleSyncDrain(w http.ResponseWriter, r *http.Request) {
	if a.sync == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "sync engine not running"})
		return
	}
	a.sync.WakeOnline()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "drain scheduled"})
}
