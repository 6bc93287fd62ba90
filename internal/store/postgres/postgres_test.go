package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/recon/internal/ledger"
	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/store"
	"github.com/cleared-dev/recon/internal/store/storetest"
)

// Runs against a scratch database; every subtest truncates all tables.
func TestConformance(t *testing.T) {
	dsn := os.Getenv("RECON_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RECON_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	charges := ledger.NewPostgres(s.DB())
	require.NoError(t, charges.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))

	storetest.Run(t, storetest.Harness{
		New: func(t *testing.T) store.Store {
			_, err := s.DB().ExecContext(ctx, `TRUNCATE matches, transactions, import_batches, charges`)
			require.NoError(t, err)
			return s
		},
		SeedCharges: func(t *testing.T, ids ...string) {
			for _, id := range ids {
				require.NoError(t, charges.Seed(ctx, model.Charge{
					ID:          id,
					PortfolioID: "pf1",
					DueDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
					Original:    100000,
					Remaining:   100000,
				}))
			}
		},
	})
}

func TestOpen_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Open(ctx, "postgres://recon@127.0.0.1:1/recon?sslmode=disable&connect_timeout=1")
	require.ErrorIs(t, err, store.ErrUnavailable)
}
