// Package api assembles the HTTP API.
package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/recon/internal/api/handlers"
	"github.com/cleared-dev/recon/internal/api/middleware"
	"github.com/cleared-dev/recon/internal/banklink"
	"github.com/cleared-dev/recon/internal/buildinfo"
	"github.com/cleared-dev/recon/internal/reconcile"
	"github.com/cleared-dev/recon/internal/store"
)

// Deps are the services behind the API.
type Deps struct {
	Store        store.Store
	Service      *reconcile.Service
	Orchestrator *reconcile.Orchestrator
	Links        *banklink.Manager
}

// NewRouter returns the API handler with middleware applied.
func NewRouter(d Deps, log zerolog.Logger) http.Handler {
	transactions := handlers.NewTransactionsHandler(d.Store, d.Service, log)
	matches := handlers.NewMatchesHandler(d.Service, d.Orchestrator, log)
	imports := handlers.NewImportsHandler(d.Store, d.Orchestrator, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/transactions", transactions.ListTransactions)
	mux.HandleFunc("GET /api/transactions/{id}/suggestions", transactions.Suggestions)

	mux.HandleFunc("POST /api/matches", matches.CreateMatch)
	mux.HandleFunc("DELETE /api/matches/{id}", matches.DeleteMatch)
	mux.HandleFunc("POST /api/reconcile", matches.Reconcile)

	mux.HandleFunc("POST /api/imports", imports.Upload)
	mux.HandleFunc("GET /api/imports", imports.ListBatches)
	mux.HandleFunc("GET /api/imports/{id}", imports.GetBatch)
	mux.HandleFunc("DELETE /api/imports/{id}", imports.DeleteBatch)

	if d.Links != nil {
		links := handlers.NewBankLinksHandler(d.Links, d.Orchestrator, log)
		mux.HandleFunc("POST /api/bank-links", links.CreateLink)
		mux.HandleFunc("GET /api/bank-links/{id}", links.GetLink)
		mux.HandleFunc("DELETE /api/bank-links/{id}", links.Cancel)
		mux.HandleFunc("POST /api/bank-links/{id}/callback", links.Callback)
		mux.HandleFunc("POST /api/bank-links/{id}/sync", links.Sync)
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"version": buildinfo.Version,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(mux),
			),
		),
	)
}

// NewServer returns an http.Server with the API's timeouts.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}
