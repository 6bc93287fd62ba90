package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cleared-dev/recon/internal/api"
)

const (
	shutdownTimeout = 30 * time.Second
	expireInterval  = time.Minute
)

func newServeCommand(g *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app) error {
				if addr == "" {
					addr = a.cfg.Server.Addr
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return a.serve(ctx, addr)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	return cmd
}

// serve runs the API until ctx is done, then drains in-flight requests.
func (a *app) serve(ctx context.Context, addr string) error {
	if a.postgres == nil {
		a.log.Warn().Msg("memory store: imports and matches are lost on exit")
	}
	srv := api.NewServer(addr, api.NewRouter(api.Deps{
		Store:        a.store,
		Service:      a.service,
		Orchestrator: a.orchestrator,
		Links:        a.links,
	}, a.log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		a.log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(expireInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := a.links.ExpireStale(gctx); n > 0 {
					a.log.Info().Int("expired", n).Msg("stale bank links failed")
				}
			}
		}
	})
	return g.Wait()
}
