package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/recon/internal/api/middleware"
	"github.com/cleared-dev/recon/internal/logger"
	"github.com/cleared-dev/recon/internal/reconcile"
)

// MatchesHandler creates and deletes matches and triggers auto-match.
type MatchesHandler struct {
	service      *reconcile.Service
	orchestrator *reconcile.Orchestrator
	log          zerolog.Logger
}

// NewMatchesHandler creates a matches handler.
func NewMatchesHandler(svc *reconcile.Service, o *reconcile.Orchestrator, log zerolog.Logger) *MatchesHandler {
	return &MatchesHandler{service: svc, orchestrator: o, log: log}
}

// CreateMatch handles POST /api/matches. matched_amount is in minor units.
func (h *MatchesHandler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req reconcile.ManualMatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	m, err := h.service.Match(r.Context(), req)
	if err != nil {
		writeServiceError(w, logger.FromContext(r.Context()), "Failed to create match", err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, m)
}

// DeleteMatch handles DELETE /api/matches/{id}.
func (h *MatchesHandler) DeleteMatch(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.Unmatch(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, logger.FromContext(r.Context()), "Failed to delete match", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reconcile handles POST /api/reconcile. An empty body reconciles every
// account at the configured threshold.
func (h *MatchesHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcile.AutoMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	rep, err := h.orchestrator.ReconcileAll(r.Context(), req.BankAccountID, req.MinConfidence)
	if err != nil {
		writeServiceError(w, logger.FromContext(r.Context()), "Failed to reconcile", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rep)
}
