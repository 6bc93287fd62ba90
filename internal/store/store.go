// Package store persists bank transactions, import batches and matches.
//
// A transaction's allocation is never stored; every read derives Allocated
// from the match set so the state cannot drift from the matches.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cleared-dev/recon/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps failures of the backing storage. Callers abort on it.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrOverAllocated is returned by CreateMatch when the match would push a
	// transaction's matched total above its absolute amount.
	ErrOverAllocated = errors.New("match exceeds unallocated transaction amount")
	// ErrBatchHasMatches is returned by DeleteBatch while any of the batch's
	// transactions is matched.
	ErrBatchHasMatches = errors.New("import batch has matched transactions")
)

// Cursor is a keyset position in the (date, id) transaction order.
type Cursor struct {
	Date time.Time
	ID   string
}

// CursorOf returns the cursor positioned on tx.
func CursorOf(tx model.Transaction) Cursor {
	return Cursor{Date: tx.Date, ID: tx.ID}
}

// Follows reports whether tx sorts strictly after the cursor.
func (c Cursor) Follows(tx model.Transaction) bool {
	if !tx.Date.Equal(c.Date) {
		return c.Date.Before(tx.Date)
	}
	return c.ID < tx.ID
}

// TransactionFilter narrows ListTransactions. Results are ordered by date,
// then id. Total counts ignore After, Limit and Offset.
type TransactionFilter struct {
	BankAccountID string
	BatchID       string
	States        []model.AllocationState
	CreditsOnly   bool
	After         *Cursor
	Limit         int // 0 = no limit
	Offset        int
}

// Matches reports whether tx passes every filter except the cursor and paging.
func (f TransactionFilter) Matches(tx model.Transaction) bool {
	if f.BankAccountID != "" && tx.BankAccountID != f.BankAccountID {
		return false
	}
	if f.BatchID != "" && tx.ImportBatchID != f.BatchID {
		return false
	}
	if f.CreditsOnly && !tx.IsCredit() {
		return false
	}
	if len(f.States) > 0 {
		st := tx.State()
		for _, want := range f.States {
			if st == want {
				return true
			}
		}
		return false
	}
	return true
}

// MatchFilter narrows ListMatches. Empty fields match everything.
type MatchFilter struct {
	TransactionID string
	ChargeID      string
}

// Page is an offset page for listings.
type Page struct {
	Limit  int
	Offset int
}

// Store is the transaction store.
type Store interface {
	CreateBatch(ctx context.Context, b *model.ImportBatch) error
	UpdateBatch(ctx context.Context, b *model.ImportBatch) error
	GetBatch(ctx context.Context, id string) (*model.ImportBatch, error)
	ListBatches(ctx context.Context, page Page) ([]model.ImportBatch, int, error)
	// DeleteBatch removes a batch and its transactions. It fails with
	// ErrBatchHasMatches while any of them is matched.
	DeleteBatch(ctx context.Context, id string) error

	// InsertTransactions stores new transactions and reports per row whether
	// it was inserted. Rows whose (bank account, content hash) already
	// exists are skipped.
	InsertTransactions(ctx context.Context, txns []model.Transaction) ([]bool, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, int, error)

	// CreateMatch records a match. It fails with ErrOverAllocated when the
	// transaction cannot absorb the amount.
	CreateMatch(ctx context.Context, m *model.Match) error
	GetMatch(ctx context.Context, id string) (*model.Match, error)
	DeleteMatch(ctx context.Context, id string) error
	ListMatches(ctx context.Context, f MatchFilter) ([]model.Match, error)

	Close() error
}
