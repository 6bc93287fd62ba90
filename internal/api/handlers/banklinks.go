package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/recon/internal/api/middleware"
	"github.com/cleared-dev/recon/internal/banklink"
	"github.com/cleared-dev/recon/internal/logger"
	"github.com/cleared-dev/recon/internal/reconcile"
)

// BankLinksHandler drives bank link state changes.
type BankLinksHandler struct {
	links        *banklink.Manager
	orchestrator *reconcile.Orchestrator
	log          zerolog.Logger
}

// NewBankLinksHandler creates a bank links handler.
func NewBankLinksHandler(links *banklink.Manager, o *reconcile.Orchestrator, log zerolog.Logger) *BankLinksHandler {
	return &BankLinksHandler{links: links, orchestrator: o, log: log}
}

// CreateLink handles POST /api/bank-links.
func (h *BankLinksHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankAccountID string `json:"bank_account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.BankAccountID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "bank_account_id is required")
		return
	}
	link, err := h.links.Start(r.Context(), req.BankAccountID)
	if err != nil {
		writeServiceError(w, logger.FromContext(r.Context()), "Failed to start bank link", err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, link)
}

// GetLink handles GET /api/bank-links/{id}.
func (h *BankLinksHandler) GetLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.Get(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, logger.FromContext(r.Context()), "Failed to load bank link", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, link)
}

// Callback handles POST /api/bank-links/{id}/callback from the provider.
func (h *BankLinksHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var cb banklink.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	link, err := h.links.HandleCallback(r.Context(), r.PathValue("id"), cb)
	if err != nil {
		writeServiceError(w, logger.FromContext(r.Context()), "Failed to apply callback", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, link)
}

// Cancel handles DELETE /api/bank-links/{id}.
func (h *BankLinksHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, logger.FromContext(r.Context()), "Failed to cancel bank link", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, link)
}

// Sync handles POST /api/bank-links/{id}/sync: pull the feed, then
// auto-match the account.
func (h *BankLinksHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MinConfidence *int `json:"min_confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	rep, err := h.orchestrator.SyncAndReconcile(r.Context(), r.PathValue("id"), req.MinConfidence)
	if err != nil {
		writeServiceError(w, logger.FromContext(r.Context()), "Failed to sync bank link", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rep)
}
