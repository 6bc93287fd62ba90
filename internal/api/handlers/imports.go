package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/recon/internal/api/middleware"
	"github.com/cleared-dev/recon/internal/importer"
	"github.com/cleared-dev/recon/internal/logger"
	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/reconcile"
	"github.com/cleared-dev/recon/internal/store"
)

// maxUploadMemory is how much of a multipart upload is held in memory;
// the rest is spooled to temporary files.
const maxUploadMemory = 32 << 20

// ImportsHandler serves uploads and import batches.
type ImportsHandler struct {
	store        store.Store
	orchestrator *reconcile.Orchestrator
	log          zerolog.Logger
}

// NewImportsHandler creates an imports handler.
func NewImportsHandler(s store.Store, o *reconcile.Orchestrator, log zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{store: s, orchestrator: o, log: log}
}

// Upload handles POST /api/imports.
//
// The multipart form carries one or more "files" plus optional
// bank_account_id, account_name, format and min_confidence fields. The
// files are imported and the touched accounts auto-matched.
func (h *ImportsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "At least one file is required")
		return
	}
	var minConfidence *int
	if s := r.FormValue("min_confidence"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "min_confidence must be an integer")
			return
		}
		minConfidence = &n
	}

	files := make([]importer.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Cannot read "+fh.Filename)
			return
		}
		defer f.Close()
		files = append(files, importer.File{Name: fh.Filename, Body: f})
	}
	opts := importer.Options{
		BankAccountID: r.FormValue("bank_account_id"),
		AccountName:   r.FormValue("account_name"),
		Format:        r.FormValue("format"),
	}

	rep, err := h.orchestrator.ImportAndReconcile(r.Context(), files, opts, minConfidence)
	if err != nil {
		status := StatusOf(err)
		if status >= http.StatusInternalServerError {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("Import failed")
		}
		middleware.WriteJSON(w, status, map[string]any{"error": err.Error(), "report": rep})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rep)
}

// ListBatches handles GET /api/imports.
func (h *ImportsHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	batches, total, err := h.store.ListBatches(r.Context(), store.Page{Limit: limit, Offset: offset})
	if err != nil {
		writeServiceError(w, logger.FromContext(r.Context()), "Failed to list imports", err)
		return
	}
	if batches == nil {
		batches = []model.ImportBatch{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"batches": batches,
		"total":   total,
	})
}

// GetBatch handles GET /api/imports/{id} with a page of the batch's rows.
func (h *ImportsHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	log := logger.FromContext(r.Context())
	b, err := h.store.GetBatch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, log, "Failed to load import", err)
		return
	}
	txns, total, err := h.store.ListTransactions(r.Context(), store.TransactionFilter{BatchID: b.ID, Limit: limit, Offset: offset})
	if err != nil {
		writeServiceError(w, log, "Failed to load import rows", err)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"batch":        b,
		"transactions": txns,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

// DeleteBatch handles DELETE /api/imports/{id}. Batches with matched rows
// are refused with 409.
func (h *ImportsHandler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteBatch(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, logger.FromContext(r.Context()), "Failed to delete import", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
