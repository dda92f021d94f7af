package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle/collab"
	"github.com/mrowan14/codeclash/go/internal/battle/service"
)

// sessionsHandler exposes session lifecycle operations over HTTP:
// open a battle, skip a puzzle, submit a solution, close the session.
type sessionsHandler struct {
	svc     *service.Service
	matches collab.MatchService

	// baseCtx bounds session lifetimes to the process, not the request
	baseCtx context.Context
}

func newSessionsHandler(baseCtx context.Context, svc *service.Service, matches collab.MatchService) *sessionsHandler {
	return &sessionsHandler{svc: svc, matches: matches, baseCtx: baseCtx}
}

type openSessionRequest struct {
	UserID          string `json:"user_id"`
	DisplayName     string `json:"display_name"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	OpponentID      string `json:"opponent_id,omitempty"`
}

func (h *sessionsHandler) handleOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	match, err := h.matches.CreateOrJoinMatch(r.Context(), collab.CreateMatchRequest{
		UserID:          req.UserID,
		DisplayName:     req.DisplayName,
		DurationSeconds: req.DurationSeconds,
		OpponentID:      req.OpponentID,
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to create or join match")
		http.Error(w, "Failed to create or join match", http.StatusBadGateway)
		return
	}

	sess, err := h.svc.Open(h.baseCtx, *match, req.UserID)
	if err != nil {
		log.Error().Err(err).Str("session_id", match.ID).Msg("failed to open session")
		http.Error(w, "Failed to open session", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(sess.Snapshot()); err != nil {
		log.Error().Err(err).Msg("failed to encode open session response")
	}
}

func (h *sessionsHandler) handleSkip(w http.ResponseWriter, r *http.Request, sess *service.Session) {
	remaining := sess.Skip()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]int{"remaining_seconds": remaining}); err != nil {
		log.Error().Err(err).Msg("failed to encode skip response")
	}
}

type submitRequest struct {
	Code string `json:"code"`
}

func (h *sessionsHandler) handleSubmit(w http.ResponseWriter, r *http.Request, sess *service.Session) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := sess.Submit(r.Context(), req.Code)
	if err != nil {
		http.Error(w, "Submission failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Error().Err(err).Msg("failed to encode submit response")
	}
}

func (h *sessionsHandler) handleClose(w http.ResponseWriter, r *http.Request, sess *service.Session) {
	h.svc.Close(sess.ID())
	w.WriteHeader(http.StatusNoContent)
}

// RegisterRoutes registers session management routes
func (h *sessionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions/open", h.handleOpen)

	mux.HandleFunc("/api/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] == "" {
			http.NotFound(w, r)
			return
		}

		sess, ok := h.svc.Get(parts[0])
		if !ok {
			http.Error(w, "Session not open", http.StatusNotFound)
			return
		}

		switch parts[1] {
		case "skip":
			h.handleSkip(w, r, sess)
		case "submit":
			h.handleSubmit(w, r, sess)
		case "close":
			h.handleClose(w, r, sess)
		default:
			http.NotFound(w, r)
		}
	})
}
