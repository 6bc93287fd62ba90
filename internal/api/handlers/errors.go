// Package handlers implements the HTTP endpoints of the reconciliation API.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/recon/internal/api/middleware"
	"github.com/cleared-dev/recon/internal/banklink"
	"github.com/cleared-dev/recon/internal/importer"
	"github.com/cleared-dev/recon/internal/ledger"
	"github.com/cleared-dev/recon/internal/reconcile"
	"github.com/cleared-dev/recon/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// StatusOf maps a service error to an HTTP status.
func StatusOf(err error) int {
	if _, ok := reconcile.AsValidation(err); ok {
		return http.StatusUnprocessableEntity
	}
	switch {
	case errors.Is(err, reconcile.ErrInvalidArgument),
		errors.Is(err, banklink.ErrUnknownAccount):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, banklink.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reconcile.ErrConcurrencyConflict),
		errors.Is(err, ledger.ErrFrozen),
		errors.Is(err, ledger.ErrInsufficientRemaining),
		errors.Is(err, store.ErrOverAllocated),
		errors.Is(err, store.ErrBatchHasMatches),
		errors.Is(err, banklink.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, importer.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and writes the mapped response. Validation
// errors carry the violated bound and the amounts in minor units.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, msg string, err error) {
	status := StatusOf(err)
	if ve, ok := reconcile.AsValidation(err); ok {
		middleware.WriteJSON(w, status, map[string]any{
			"error":     ve.Error(),
			"bound":     ve.Bound,
			"requested": ve.Requested,
			"available": ve.Available,
			"excess":    ve.Excess(),
		})
		return
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, status, msg)
		return
	}
	middleware.WriteError(w, status, err.Error())
}

// parsePage reads limit and offset query parameters.
func parsePage(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = defaultLimit
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if s := q.Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
