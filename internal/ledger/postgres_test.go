package ledger

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("RECON_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RECON_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p := NewPostgres(db)
	require.NoError(t, p.Migrate(ctx))
	_, err = db.ExecContext(ctx, `TRUNCATE charges CASCADE`)
	require.NoError(t, err)
	require.NoError(t, p.Seed(ctx, testCharges()...))

	ledgerContract(t, p, func(id string, frozen bool) error { return p.Freeze(ctx, id, frozen) })
}
