package model

import "time"

// AllocationState is the derived matching state of a bank transaction.
type AllocationState string

const (
	StateUnmatched        AllocationState = "unmatched"
	StatePartiallyMatched AllocationState = "partially_matched"
	StateFullyMatched     AllocationState = "fully_matched"
)

// ParseAllocationState validates a state string.
func ParseAllocationState(s string) (AllocationState, bool) {
	switch st := AllocationState(s); st {
	case StateUnmatched, StatePartiallyMatched, StateFullyMatched:
		return st, true
	}
	return "", false
}

// AllocationStateOf derives the state of a transaction of the given amount
// from the sum of its matched amounts.
func AllocationStateOf(amount, allocated Amount) AllocationState {
	switch {
	case allocated <= 0:
		return StateUnmatched
	case allocated < amount.Abs():
		return StatePartiallyMatched
	default:
		return StateFullyMatched
	}
}

// Transaction is a normalized bank transaction.
type Transaction struct {
	ID                 string    `json:"id"`
	BankAccountID      string    `json:"bank_account_id"`
	Date               time.Time `json:"date"`
	Amount             Amount    `json:"amount"` // negative = outgoing
	Currency           string    `json:"currency"`
	CounterpartName    string    `json:"counterpart_name,omitempty"`
	CounterpartAccount string    `json:"counterpart_account,omitempty"` // payer IBAN or account number
	Purpose            string    `json:"purpose,omitempty"`
	Reference          string    `json:"reference,omitempty"`
	ImportBatchID      string    `json:"import_batch_id,omitempty"` // empty for feed-synced rows
	ContentHash        string    `json:"content_hash"`
	CreatedAt          time.Time `json:"created_at"`

	// Allocated is the sum of matched amounts. Stores compute it from the
	// match set on every read; it is never persisted.
	Allocated Amount `json:"allocated"`
}

// Unallocated is the part of the transaction not yet matched to charges.
func (t Transaction) Unallocated() Amount {
	rest := t.Amount.Abs() - t.Allocated
	if rest < 0 {
		return 0
	}
	return rest
}

// State returns the derived allocation state.
func (t Transaction) State() AllocationState {
	return AllocationStateOf(t.Amount, t.Allocated)
}

// IsCredit reports whether money came into the account.
func (t Transaction) IsCredit() bool {
	return t.Amount > 0
}
