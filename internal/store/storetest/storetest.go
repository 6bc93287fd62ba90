// Package storetest is a conformance suite every store.Store must pass.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/store"
)

// Harness builds fresh stores for the suite.
type Harness struct {
	// New returns an empty store.
	New func(t *testing.T) store.Store
	// SeedCharges makes the charge ids referable by matches. Optional.
	SeedCharges func(t *testing.T, ids ...string)
}

// Run executes the suite.
func Run(t *testing.T, h Harness) {
	tests := map[string]func(*testing.T, Harness){
		"InsertDeduplicates":           testInsertDeduplicates,
		"ConcurrentInsertDeduplicates": testConcurrentInsertDeduplicates,
		"GetMissing":                   testGetMissing,
		"ListTransactions":             testListTransactions,
		"KeysetCursor":                 testKeysetCursor,
		"MatchGuardsAllocation":        testMatchGuardsAllocation,
		"DeleteMatchRestores":          testDeleteMatchRestores,
		"DeleteBatch":                  testDeleteBatch,
		"Batches":                      testBatches,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) { fn(t, h) })
	}
}

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func txn(id, account string, dayOffset int, amount model.Amount, batch string) model.Transaction {
	return model.Transaction{
		ID:              id,
		BankAccountID:   account,
		Date:            base.AddDate(0, 0, dayOffset),
		Amount:          amount,
		Currency:        "EUR",
		CounterpartName: "Payer " + id,
		Purpose:         "Miete " + id,
		ImportBatchID:   batch,
		ContentHash:     "hash-" + id,
		CreatedAt:       base,
	}
}

func batch(id string, created time.Time) *model.ImportBatch {
	return &model.ImportBatch{
		ID:            id,
		BankAccountID: "acc1",
		Filename:      id + ".csv",
		Columns:       []string{"Buchungstag", "Betrag"},
		Format:        "de",
		CreatedAt:     created,
	}
}

func match(id, txnID, chargeID string, amount model.Amount) *model.Match {
	conf := 91
	return &model.Match{
		ID:            id,
		TransactionID: txnID,
		ChargeID:      chargeID,
		Amount:        amount,
		Confidence:    &conf,
		Method:        model.MethodAuto,
		CreatedAt:     base,
	}
}

func seed(t *testing.T, h Harness, ids ...string) {
	if h.SeedCharges != nil {
		h.SeedCharges(t, ids...)
	}
}

func testInsertDeduplicates(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	require.NoError(t, s.CreateBatch(ctx, batch("imp1", base)))

	rows := []model.Transaction{txn("t1", "acc1", 0, 85000, "imp1"), txn("t2", "acc1", 1, 40000, "imp1")}
	inserted, err := s.InsertTransactions(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, inserted)

	again := []model.Transaction{txn("t3", "acc1", 0, 85000, "imp1"), txn("t4", "acc1", 1, 40000, "imp1")}
	again[0].ContentHash, again[1].ContentHash = rows[0].ContentHash, rows[1].ContentHash
	inserted, err = s.InsertTransactions(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false}, inserted)

	other := txn("t5", "acc2", 0, 85000, "imp1")
	other.ContentHash = rows[0].ContentHash
	inserted, err = s.InsertTransactions(ctx, []model.Transaction{other})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, inserted, "uniqueness is per account")

	_, total, err := s.ListTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func testConcurrentInsertDeduplicates(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	require.NoError(t, s.CreateBatch(ctx, batch("imp1", base)))

	const writers, rows = 8, 5
	inserted := make([][]bool, writers)
	var g errgroup.Group
	for w := range writers {
		g.Go(func() error {
			txns := make([]model.Transaction, rows)
			for i := range rows {
				txns[i] = txn(fmt.Sprintf("t%d-%d", w, i), "acc1", i, model.Amount(1000*(i+1)), "imp1")
				txns[i].ContentHash = fmt.Sprintf("hash-%d", i)
			}
			var err error
			inserted[w], err = s.InsertTransactions(ctx, txns)
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i := range rows {
		won := 0
		for w := range writers {
			if inserted[w][i] {
				won++
			}
		}
		assert.Equal(t, 1, won, "row %d inserted once", i)
	}
	_, total, err := s.ListTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, rows, total)
}

func testGetMissing(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)

	_, err := s.GetTransaction(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetMatch(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetBatch(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteMatch(ctx, "nope"), store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteBatch(ctx, "nope"), store.ErrNotFound)
}

func testListTransactions(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	seed(t, h, "c1")
	require.NoError(t, s.CreateBatch(ctx, batch("imp1", base)))

	rows := []model.Transaction{
		txn("t3", "acc1", 2, 10000, "imp1"),
		txn("t1", "acc1", 0, 85000, "imp1"),
		txn("t2", "acc1", 0, -2500, "imp1"),
		txn("t4", "acc2", 1, 30000, ""),
	}
	_, err := s.InsertTransactions(ctx, rows)
	require.NoError(t, err)
	require.NoError(t, s.CreateMatch(ctx, match("m1", "t1", "c1", 40000)))

	got, total, err := s.ListTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, []string{"t1", "t2", "t4", "t3"}, ids(got))

	got, total, err = s.ListTransactions(ctx, store.TransactionFilter{BankAccountID: "acc1", CreditsOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"t1", "t3"}, ids(got))
	assert.Equal(t, model.Amount(40000), got[0].Allocated)
	assert.Equal(t, model.StatePartiallyMatched, got[0].State())

	got, _, err = s.ListTransactions(ctx, store.TransactionFilter{States: []model.AllocationState{model.StatePartiallyMatched}})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ids(got))

	got, _, err = s.ListTransactions(ctx, store.TransactionFilter{States: []model.AllocationState{model.StateUnmatched}, BatchID: "imp1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t3"}, ids(got))

	got, total, err = s.ListTransactions(ctx, store.TransactionFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, []string{"t2", "t4"}, ids(got))
}

func testKeysetCursor(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)

	var rows []model.Transaction
	for i := 0; i < 7; i++ {
		rows = append(rows, txn(fmt.Sprintf("t%d", i), "acc1", i/2, 1000, ""))
	}
	_, err := s.InsertTransactions(ctx, rows)
	require.NoError(t, err)

	var seen []string
	f := store.TransactionFilter{Limit: 3}
	for {
		page, _, err := s.ListTransactions(ctx, f)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		seen = append(seen, ids(page)...)
		c := store.CursorOf(page[len(page)-1])
		f.After = &c
	}
	assert.Equal(t, []string{"t0", "t1", "t2", "t3", "t4", "t5", "t6"}, seen)
}

func testMatchGuardsAllocation(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	seed(t, h, "c1", "c2")
	_, err := s.InsertTransactions(ctx, []model.Transaction{txn("t1", "acc1", 0, 85000, "")})
	require.NoError(t, err)

	require.NoError(t, s.CreateMatch(ctx, match("m1", "t1", "c1", 50000)))
	err = s.CreateMatch(ctx, match("m2", "t1", "c2", 35001))
	assert.ErrorIs(t, err, store.ErrOverAllocated)
	require.NoError(t, s.CreateMatch(ctx, match("m3", "t1", "c2", 35000)))

	tx, err := s.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.Amount(85000), tx.Allocated)
	assert.Equal(t, model.StateFullyMatched, tx.State())

	err = s.CreateMatch(ctx, match("m4", "missing", "c1", 1))
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.GetMatch(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got.Confidence)
	assert.Equal(t, 91, *got.Confidence)
	assert.Equal(t, model.MethodAuto, got.Method)

	byCharge, err := s.ListMatches(ctx, store.MatchFilter{ChargeID: "c2"})
	require.NoError(t, err)
	require.Len(t, byCharge, 1)
	assert.Equal(t, "m3", byCharge[0].ID)
}

func testDeleteMatchRestores(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	seed(t, h, "c1")
	_, err := s.InsertTransactions(ctx, []model.Transaction{txn("t1", "acc1", 0, 85000, "")})
	require.NoError(t, err)

	m := match("m1", "t1", "c1", 85000)
	m.Confidence = nil
	m.Method = model.MethodManual
	m.Note = "paid in cash at the office"
	require.NoError(t, s.CreateMatch(ctx, m))

	got, err := s.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, got.Confidence)
	assert.Equal(t, "paid in cash at the office", got.Note)

	require.NoError(t, s.DeleteMatch(ctx, "m1"))
	tx, err := s.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StateUnmatched, tx.State())
	assert.Equal(t, model.Amount(85000), tx.Unallocated())

	matches, err := s.ListMatches(ctx, store.MatchFilter{TransactionID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func testDeleteBatch(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	seed(t, h, "c1")
	require.NoError(t, s.CreateBatch(ctx, batch("imp1", base)))
	rows := []model.Transaction{txn("t1", "acc1", 0, 85000, "imp1"), txn("t2", "acc1", 1, 1000, "imp1")}
	_, err := s.InsertTransactions(ctx, rows)
	require.NoError(t, err)
	require.NoError(t, s.CreateMatch(ctx, match("m1", "t1", "c1", 85000)))

	assert.ErrorIs(t, s.DeleteBatch(ctx, "imp1"), store.ErrBatchHasMatches)
	_, err = s.GetTransaction(ctx, "t2")
	require.NoError(t, err, "refused delete leaves rows in place")

	require.NoError(t, s.DeleteMatch(ctx, "m1"))
	require.NoError(t, s.DeleteBatch(ctx, "imp1"))

	_, err = s.GetTransaction(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetBatch(ctx, "imp1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.CreateBatch(ctx, batch("imp2", base)))
	rows[0].ID, rows[1].ID = "t1b", "t2b"
	rows[0].ImportBatchID, rows[1].ImportBatchID = "imp2", "imp2"
	inserted, err := s.InsertTransactions(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, inserted, "rows are importable again after the batch is gone")
}

func testBatches(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)

	require.NoError(t, s.CreateBatch(ctx, batch("imp1", base)))
	require.NoError(t, s.CreateBatch(ctx, batch("imp2", base.Add(time.Hour))))

	b, err := s.GetBatch(ctx, "imp1")
	require.NoError(t, err)
	b.RowCount, b.Imported, b.Skipped, b.Errored = 10, 7, 2, 1
	b.SourceURI = "file:///archive/imp1.csv"
	require.NoError(t, s.UpdateBatch(ctx, b))

	got, err := s.GetBatch(ctx, "imp1")
	require.NoError(t, err)
	assert.Equal(t, b, got)
	assert.Equal(t, []string{"Buchungstag", "Betrag"}, got.Columns)

	list, total, err := s.ListBatches(ctx, store.Page{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 1)
	assert.Equal(t, "imp2", list[0].ID)

	assert.ErrorIs(t, s.UpdateBatch(ctx, batch("missing", base)), store.ErrNotFound)
}

func ids(txns []model.Transaction) []string {
	out := make([]string, len(txns))
	for i, tx := range txns {
		out[i] = tx.ID
	}
	return out
}
