package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/recon/internal/api/middleware"
	"github.com/cleared-dev/recon/internal/logger"
	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/reconcile"
	"github.com/cleared-dev/recon/internal/store"
)

// TransactionsHandler serves transaction listings and suggestions.
type TransactionsHandler struct {
	store   store.Store
	service *reconcile.Service
	log     zerolog.Logger
}

// NewTransactionsHandler creates a transactions handler.
func NewTransactionsHandler(s store.Store, svc *reconcile.Service, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{store: s, service: svc, log: log}
}

// ListTransactions handles GET /api/transactions.
//
// Query parameters: bank_account_id, batch_id, state (comma separated
// allocation states), credits_only, limit, offset.
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := parsePage(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	f := store.TransactionFilter{
		BankAccountID: q.Get("bank_account_id"),
		BatchID:       q.Get("batch_id"),
		CreditsOnly:   q.Get("credits_only") == "true",
		Limit:         limit,
		Offset:        offset,
	}
	if states := q.Get("state"); states != "" {
		for _, s := range strings.Split(states, ",") {
			st, ok := model.ParseAllocationState(strings.TrimSpace(s))
			if !ok {
				middleware.WriteError(w, http.StatusBadRequest, "unknown state "+s)
				return
			}
			f.States = append(f.States, st)
		}
	}

	txns, total, err := h.store.ListTransactions(r.Context(), f)
	if err != nil {
		writeServiceError(w, logger.FromContext(r.Context()), "Failed to list transactions", err)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"transactions": txns,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

// Suggestions handles GET /api/transactions/{id}/suggestions.
func (h *TransactionsHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	got, err := h.service.Suggest(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, logger.FromContext(r.Context()), "Failed to rank candidates", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, got)
}
