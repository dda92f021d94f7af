package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle"
)

// StateProvider interface defines methods for retrieving battle state
type StateProvider interface {
	GetSessionState(ctx context.Context, sessionID string) (*battle.MatchSession, error)
	GetRecentOutcomes(ctx context.Context, limit int) ([]battle.Outcome, error)
}

// SessionStateResponse is the HTTP shape of a session read
type SessionStateResponse struct {
	Session  battle.MatchSession `json:"session"`
	Degraded bool                `json:"degraded"`
}

// StateHandler handles HTTP requests for battle state
type StateHandler struct {
	stateProvider StateProvider

	// degraded reports whether the push channel is currently down; nil
	// means always healthy
	degraded func() bool
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider, degraded func() bool) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
		degraded:      degraded,
	}
}

// HandleGetSessionState handles GET /api/battles/{id}/state
func (h *StateHandler) HandleGetSessionState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := extractSessionIDFromPath(r.URL.Path)
	if sessionID == "" {
		http.Error(w, "Session ID is required", http.StatusBadRequest)
		return
	}

	session, err := h.stateProvider.GetSessionState(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to get session state")
		http.Error(w, "Failed to get session state", http.StatusInternalServerError)
		return
	}
	if session == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	resp := SessionStateResponse{Session: *session}
	if h.degraded != nil {
		resp.Degraded = h.degraded()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode session state response")
	}
}

// HandleGetRecentOutcomes handles GET /api/battles/recent
func (h *StateHandler) HandleGetRecentOutcomes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	outcomes, err := h.stateProvider.GetRecentOutcomes(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to get recent outcomes")
		http.Error(w, "Failed to get recent outcomes", http.StatusInternalServerError)
		return
	}
	if outcomes == nil {
		outcomes = []battle.Outcome{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(outcomes); err != nil {
		log.Error().Err(err).Msg("failed to encode recent outcomes response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/battles/recent", h.HandleGetRecentOutcomes)

	mux.HandleFunc("/api/battles/", func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Str("path", r.URL.Path).Msg("state handler received request")

		if len(r.URL.Path) > len("/api/battles/") && r.URL.Path[len(r.URL.Path)-6:] == "/state" {
			h.HandleGetSessionState(w, r)
		} else {
			http.NotFound(w, r)
		}
	})
}

// extractSessionIDFromPath extracts session ID from path like /api/battles/{id}/state
func extractSessionIDFromPath(path string) string {
	const prefix = "/api/battles/"
	const suffix = "/state"

	if len(path) <= len(prefix)+len(suffix) {
		return ""
	}

	if path[:len(prefix)] != prefix || path[len(path)-len(suffix):] != suffix {
		return ""
	}

	return path[len(prefix) : len(path)-len(suffix)]
}
