package reconcile

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/recon/internal/banklink"
	"github.com/cleared-dev/recon/internal/config"
	"github.com/cleared-dev/recon/internal/events"
	"github.com/cleared-dev/recon/internal/importer"
	"github.com/cleared-dev/recon/internal/model"
)

func giroCharges() []model.Charge {
	mueller := charge("chg_mueller", "Hans Müller", "2024-03-01", 85000)
	mueller.TenantReference = "DE12500105170648489890"
	mueller.UnitLabel = "Whg 3"
	return []model.Charge{
		mueller,
		charge("chg_schmidt", "Petra Schmidt", "2024-03-01", 72000),
		charge("chg_braun", "Olga Braun", "2024-03-01", 85000),
	}
}

func testConfig() *config.Config {
	cfg := config.Default("test")
	cfg.BankAccounts = []model.BankAccount{
		{ID: "acc_giro", Name: "Hausverwaltung Giro", Currency: "EUR", PortfolioID: "pf1", Format: "de"},
	}
	return cfg
}

func giroFile(t *testing.T) importer.File {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", "giro_de.csv"))
	require.NoError(t, err)
	return importer.File{Name: "giro_de.csv", Body: bytes.NewReader(data)}
}

func newOrchestrator(t *testing.T, f *fixture, links Syncer) *Orchestrator {
	t.Helper()
	im := importer.New(f.store, testConfig(), importer.Config{ChunkSize: 2, Workers: 2, DefaultFormat: "auto"}, zerolog.Nop())
	return NewOrchestrator(im, links, f.svc, zerolog.Nop()).WithObserver(f.events)
}

func TestImportAndReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, giroCharges()...)
	o := newOrchestrator(t, f, nil)

	rep, err := o.ImportAndReconcile(ctx, []importer.File{giroFile(t)}, importer.Options{BankAccountID: "acc_giro"}, nil)
	require.NoError(t, err)
	require.Len(t, rep.Files, 1)
	assert.Equal(t, 4, rep.Files[0].Imported)
	assert.Equal(t, 2, rep.Files[0].Errored)
	assert.Equal(t, []string{"acc_giro"}, rep.Accounts)
	assert.Equal(t, Stats{
		TotalTransactions: 3,
		TotalCharges:      3,
		Matched:           2,
		Open:              1,
		Overdue:           1,
	}, rep.Match)

	assert.Equal(t, model.ChargePaid, f.charge(t, "chg_mueller").PaymentState())
	assert.Equal(t, model.ChargePaid, f.charge(t, "chg_schmidt").PaymentState())
	assert.Equal(t, model.ChargeOverdue, f.charge(t, "chg_braun").Status(today))

	done := f.events.OfType(events.ReconciliationCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, "import", done[0].Subject)
	assert.Equal(t, 4, done[0].Data["imported"])
	checkInvariants(t, f.store, f.ledger)

	// Same file again: nothing new, the leftover transaction is retried.
	rep, err = o.ImportAndReconcile(ctx, []importer.File{giroFile(t)}, importer.Options{BankAccountID: "acc_giro"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Files[0].Imported)
	assert.Equal(t, 4, rep.Files[0].Skipped)
	assert.Equal(t, 1, rep.Match.TotalTransactions)
	assert.Zero(t, rep.Match.Matched)
}

type fakeImporter struct {
	results []importer.FileResult
	err     error
}

func (f fakeImporter) Import(context.Context, []importer.File, importer.Options) ([]importer.FileResult, error) {
	return f.results, f.err
}

func TestImportAndReconcile_ImportFailureReportsProgress(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("disk gone")
	o := NewOrchestrator(fakeImporter{
		results: []importer.FileResult{{Filename: "a.csv", Imported: 3, Accounts: []string{"acc_giro"}}},
		err:     boom,
	}, nil, f.svc, zerolog.Nop()).WithObserver(f.events)

	rep, err := o.ImportAndReconcile(context.Background(), nil, importer.Options{}, nil)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, rep)
	require.Len(t, rep.Files, 1)
	assert.Equal(t, 3, rep.Files[0].Imported)
	assert.Zero(t, rep.Match.TotalTransactions)
	assert.Empty(t, f.events.OfType(events.ReconciliationCompleted))
}

func TestReconcileAll(t *testing.T) {
	f := newFixture(t, giroCharges()...)
	f.add(t,
		txn("txn_1", "2024-03-02", 72000, "Petra Schmidt", ""),
		txn("txn_2", "2024-03-02", 10000, "Niemand", ""),
	)
	o := newOrchestrator(t, f, nil)

	rep, err := o.ReconcileAll(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "reconcile", rep.Trigger)
	assert.Equal(t, 2, rep.Match.TotalTransactions)
	assert.Equal(t, 1, rep.Match.Matched)
	assert.Equal(t, 1, rep.Match.Open)
	assert.Len(t, f.events.OfType(events.ReconciliationCompleted), 1)
}

func TestSyncAndReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, giroCharges()...)
	feed := banklink.NewStaticFeed()
	feed.Add("acc_giro", banklink.FeedTransaction{
		Date:            day("2024-03-02"),
		Amount:          72000,
		CounterpartName: "Petra Schmidt",
		Purpose:         "Miete Maerz",
	})
	links := banklink.NewManager(f.store, feed, testConfig(), time.Minute, zerolog.Nop())
	link, err := links.Start(ctx, "acc_giro")
	require.NoError(t, err)
	_, err = links.HandleCallback(ctx, link.ID, banklink.Callback{Token: "tok"})
	require.NoError(t, err)

	o := newOrchestrator(t, f, links)
	rep, err := o.SyncAndReconcile(ctx, link.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, rep.Sync)
	assert.Equal(t, 1, rep.Sync.Imported)
	assert.Equal(t, banklink.StateSynced, rep.Sync.Link.State)
	assert.Equal(t, 1, rep.Match.Matched)
	assert.Equal(t, model.ChargePaid, f.charge(t, "chg_schmidt").PaymentState())
}

func TestSyncAndReconcile_NoFeed(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(fakeImporter{}, nil, f.svc, zerolog.Nop())
	_, err := o.SyncAndReconcile(context.Background(), "lnk_x", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
