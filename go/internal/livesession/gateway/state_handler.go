package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/checkpoint/go/internal/livesession/registry"
	"github.com/mcdev12/checkpoint/go/internal/livesession/room"
)

// SessionStateResponse is the REST view of one session, for clients that want
// to poll instead of holding a socket
type SessionStateResponse struct {
	SessionID       string          `json:"session_id"`
	Active          bool            `json:"active"`
	Checkpoint      json.RawMessage `json:"checkpoint,omitempty"`
	Deadline        *int64          `json:"deadline,omitempty"`
	TimeRemainingMs *int64          `json:"time_remaining_ms,omitempty"`
	Members         int             `json:"members"`
	ServerTime      int64           `json:"server_time"`
}

// SessionSummary is one row of the session listing
type SessionSummary struct {
	SessionID string `json:"session_id"`
	Active    bool   `json:"active"`
	Deadline  *int64 `json:"deadline,omitempty"`
	Members   int    `json:"members"`
}

// StateHandler serves read-only session state over HTTP
type StateHandler struct {
	registry *registry.Registry
	members  *room.Membership
	clock    clockwork.Clock
}

// NewStateHandler creates a new state handler
func NewStateHandler(reg *registry.Registry, members *room.Membership, clock clockwork.Clock) *StateHandler {
	return &StateHandler{registry: reg, members: members, clock: clock}
}

// HandleGetSessionState handles GET /api/sessions/{id}/state. Unknown sessions
// are reported as idle, the same as the websocket view.
func (h *StateHandler) HandleGetSessionState(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}

	now := h.clock.Now()
	resp := SessionStateResponse{
		SessionID:  sessionID,
		Members:    h.members.Count(sessionID),
		ServerTime: now.UnixMilli(),
	}

	if active, ok := h.registry.Get(sessionID); ok {
		deadline := active.Deadline
		remaining := remainingMillis(deadline, now)
		resp.Active = true
		resp.Checkpoint = active.Checkpoint
		resp.Deadline = &deadline
		resp.TimeRemainingMs = &remaining
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleListSessions handles GET /api/sessions
func (h *StateHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	snapshot := h.registry.Snapshot()
	out := make([]SessionSummary, 0, len(snapshot))
	for _, s := range snapshot {
		summary := SessionSummary{
			SessionID: s.SessionID,
			Members:   h.members.Count(s.SessionID),
		}
		if s.Active != nil {
			deadline := s.Active.Deadline
			summary.Active = true
			summary.Deadline = &deadline
		}
		out = append(out, summary)
	}

	writeJSON(w, http.StatusOK, out)
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.HandleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}/state", h.HandleGetSessionState)
}

// remainingMillis is advisory only; expired checkpoints report zero
func remainingMillis(deadline int64, now time.Time) int64 {
	remaining := time.UnixMilli(deadline).Sub(now).Milliseconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}
