// Package ledger talks to the charge ledger, the external system that owns
// tenants' receivables. Reconciliation only ever changes a charge's
// remaining balance, through Apply and Reverse.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/cleared-dev/recon/internal/model"
)

var (
	// ErrNotFound is returned for unknown charge ids.
	ErrNotFound = errors.New("charge not found")
	// ErrInsufficientRemaining is returned by Apply when the charge's
	// remaining balance is smaller than the amount.
	ErrInsufficientRemaining = errors.New("amount exceeds charge remaining balance")
	// ErrFrozen is returned when the ledger has locked the charge, for
	// example because its accounting period is settled.
	ErrFrozen = errors.New("charge is frozen")
	// ErrOverRestore is returned by Reverse when the restored balance would
	// exceed the original amount.
	ErrOverRestore = errors.New("reversal exceeds allocated amount")
)

// Query scopes OpenCharges. Zero times are unbounded.
type Query struct {
	PortfolioID string
	DueFrom     time.Time
	DueTo       time.Time
}

// Matches reports whether c is in scope and still owed.
func (q Query) Matches(c model.Charge) bool {
	if c.Remaining <= 0 {
		return false
	}
	if q.PortfolioID != "" && c.PortfolioID != q.PortfolioID {
		return false
	}
	if !q.DueFrom.IsZero() && c.DueDate.Before(q.DueFrom) {
		return false
	}
	if !q.DueTo.IsZero() && c.DueDate.After(q.DueTo) {
		return false
	}
	return true
}

// Ledger is the charge ledger collaborator.
//
//go:generate mockgen -destination=mocks/mock_ledger.go -source=ledger.go Ledger
type Ledger interface {
	// OpenCharges lists charges with a remaining balance, ordered by due
	// date then id.
	OpenCharges(ctx context.Context, q Query) ([]model.Charge, error)
	Charge(ctx context.Context, id string) (*model.Charge, error)
	// Apply decrements the remaining balance only if it covers amount.
	Apply(ctx context.Context, id string, amount model.Amount) (*model.Charge, error)
	// Reverse restores amount to the remaining balance.
	Reverse(ctx context.Context, id string, amount model.Amount) (*model.Charge, error)
}
