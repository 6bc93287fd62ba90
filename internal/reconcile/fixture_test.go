package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/recon/internal/events"
	"github.com/cleared-dev/recon/internal/importer"
	"github.com/cleared-dev/recon/internal/ledger"
	"github.com/cleared-dev/recon/internal/matching"
	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/store"
	"github.com/cleared-dev/recon/internal/store/memory"
)

var today = time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type portfolios map[string]string

func (p portfolios) PortfolioFor(accountID string) (string, bool) {
	pf, ok := p[accountID]
	return pf, ok
}

var testPortfolios = portfolios{"acc_giro": "pf1", "acc_other": "pf2"}

var testThresholds = Thresholds{AutoConfirm: 80, ReviewFlag: 60, AmbiguityEpsilon: 5}

type fixture struct {
	store  *memory.Store
	ledger *ledger.Memory
	svc    *Service
	events *events.Recorder
}

func newEngine(t *testing.T) *matching.Engine {
	t.Helper()
	e, err := matching.NewEngine(matching.DefaultConfig())
	require.NoError(t, err)
	return e
}

func newFixture(t *testing.T, charges ...model.Charge) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		ledger: ledger.NewMemory(charges...),
		events: &events.Recorder{},
	}
	f.svc = newService(t, f.store, f.ledger).WithObserver(f.events)
	return f
}

func newService(t *testing.T, s store.Store, l ledger.Ledger) *Service {
	t.Helper()
	return NewService(s, l, newEngine(t), testPortfolios, testThresholds, zerolog.Nop()).
		WithClock(func() time.Time { return today })
}

func charge(id, tenant, due string, amount model.Amount) model.Charge {
	return model.Charge{
		ID:          id,
		PortfolioID: "pf1",
		TenantID:    "ten_" + id,
		TenantName:  tenant,
		UnitID:      "unit_" + id,
		DueDate:     day(due),
		Original:    amount,
		Remaining:   amount,
	}
}

func txn(id, date string, amount model.Amount, payer, purpose string) model.Transaction {
	d := day(date)
	return model.Transaction{
		ID:              id,
		BankAccountID:   "acc_giro",
		Date:            d,
		Amount:          amount,
		Currency:        "EUR",
		CounterpartName: payer,
		Purpose:         purpose,
		ContentHash:     importer.ContentHash("acc_giro", d, amount, purpose+"|"+id),
		CreatedAt:       today,
	}
}

func (f *fixture) add(t *testing.T, txns ...model.Transaction) {
	t.Helper()
	inserted, err := f.store.InsertTransactions(context.Background(), txns)
	require.NoError(t, err)
	for i, ok := range inserted {
		require.True(t, ok, "transaction %s not inserted", txns[i].ID)
	}
}

func (f *fixture) charge(t *testing.T, id string) model.Charge {
	t.Helper()
	c, err := f.ledger.Charge(context.Background(), id)
	require.NoError(t, err)
	return *c
}

func (f *fixture) txn(t *testing.T, id string) model.Transaction {
	t.Helper()
	tx, err := f.store.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return *tx
}

// checkInvariants verifies that charge balances agree with the matches and
// no transaction is over-allocated.
func checkInvariants(t *testing.T, s store.Store, l *ledger.Memory) {
	t.Helper()
	ctx := context.Background()
	for _, c := range l.All() {
		ms, err := s.ListMatches(ctx, store.MatchFilter{ChargeID: c.ID})
		require.NoError(t, err)
		var sum model.Amount
		for _, m := range ms {
			sum += m.Amount
		}
		require.Equal(t, c.Original-c.Remaining, sum, "charge %s", c.ID)
		require.GreaterOrEqual(t, c.Remaining, model.Amount(0), "charge %s", c.ID)
		require.LessOrEqual(t, c.Remaining, c.Original, "charge %s", c.ID)
	}
	txns, _, err := s.ListTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	for _, tx := range txns {
		require.LessOrEqual(t, tx.Allocated, tx.Amount.Abs(), "transaction %s", tx.ID)
		ms, err := s.ListMatches(ctx, store.MatchFilter{TransactionID: tx.ID})
		require.NoError(t, err)
		var sum model.Amount
		for _, m := range ms {
			sum += m.Amount
		}
		require.Equal(t, sum, tx.Allocated, fmt.Sprintf("transaction %s", tx.ID))
	}
}
