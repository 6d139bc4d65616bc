package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler exposes the connection manager over HTTP.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm}
}

// HandleHeatConnection upgrades a client onto a heat's event stream.
func (h *WebSocketHandler) HandleHeatConnection(w http.ResponseWriter, r *http.Request) {
	heatID := r.URL.Query().Get("heat_id")
	if heatID == "" {
		http.Error(w, "heat_id is required", http.StatusBadRequest)
		return
	}

	// In production this would come from an authenticated session.
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = "anonymous"
	}

	if err := h.connectionManager.UpgradeConnection(w, r, clientID, heatID); err != nil {
		log.Error().
			Err(err).
			Str("heat_id", heatID).
			Str("client_id", clientID).
			Msg("failed to upgrade websocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// HandleConnectionStats returns active connection counts.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	total, perHeat := h.connectionManager.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total_connections": total,
		"active_heats":      len(perHeat),
		"heat_connections":  perHeat,
	})
}

// RegisterRoutes registers the gateway routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/heat", h.HandleHeatConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
