package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mcdev12/checkpoint/go/internal/livesession/room"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for live sessions
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	members           *room.Membership
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, members *room.Membership) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		members:           members,
	}
}

// HandleSessionConnection upgrades the request. When session_id is given as a
// query parameter the socket joins that session straight away, using user_id
// and role from the query as well.
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	var join *JoinParams
	query := r.URL.Query()
	if sessionID := query.Get("session_id"); sessionID != "" {
		join = &JoinParams{
			SessionID: sessionID,
			UserID:    query.Get("user_id"),
			Role:      query.Get("role"),
		}
		if _, err := room.ParseRole(join.Role); err != nil {
			http.Error(w, "invalid role", http.StatusBadRequest)
			return
		}
	}

	if err := h.connectionManager.UpgradeConnection(w, r, join); err != nil {
		// The upgrader has already written an HTTP error response
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.members.Stats()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"open_connections": h.connectionManager.Count(),
		"joined_members":   stats.TotalConnections,
		"active_sessions":  stats.ActiveSessions,
		"session_members":  stats.Rooms,
	})
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/session", h.HandleSessionConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}
