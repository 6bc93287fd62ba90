package reconcile

import (
	"errors"
	"fmt"

	"github.com/cleared-dev/recon/internal/model"
)

// ErrConcurrencyConflict is returned when a balance changed between the
// check and the write. The caller may retry.
var ErrConcurrencyConflict = errors.New("concurrent update on charge or transaction")

// Bound names the limit a match amount violated.
type Bound string

const (
	BoundPositive               Bound = "positive_amount"
	BoundChargeRemaining        Bound = "charge_remaining"
	BoundTransactionUnallocated Bound = "transaction_unallocated"
)

// ValidationError rejects a match amount. Amounts are never clamped.
type ValidationError struct {
	Bound     Bound
	Requested model.Amount
	Available model.Amount
}

func (e *ValidationError) Error() string {
	if e.Bound == BoundPositive {
		return fmt.Sprintf("matched amount %s must be positive", e.Requested)
	}
	return fmt.Sprintf("matched amount %s exceeds %s %s by %s", e.Requested, e.Bound, e.Available, e.Excess())
}

// Excess is how far the requested amount is over the bound.
func (e *ValidationError) Excess() model.Amount {
	if e.Bound == BoundPositive {
		return -e.Requested
	}
	return e.Requested - e.Available
}

// AsValidation unwraps a ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
