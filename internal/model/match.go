package model

import "time"

// MatchMethod records how a match was created.
type MatchMethod string

const (
	MethodAuto   MatchMethod = "auto"
	MethodManual MatchMethod = "manual"
)

// Match allocates part or all of a transaction to part or all of a charge.
type Match struct {
	ID            string      `json:"id"`
	TransactionID string      `json:"transaction_id"`
	ChargeID      string      `json:"charge_id"`
	Amount        Amount      `json:"matched_amount"`
	Confidence    *int        `json:"confidence,omitempty"`
	Method        MatchMethod `json:"method"`
	Note          string      `json:"note,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}
