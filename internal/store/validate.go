package store

import (
	"errors"
	"fmt"

	"github.com/cleared-dev/recon/internal/model"
)

// ValidateTransaction checks the fields every backend requires.
func ValidateTransaction(tx model.Transaction) error {
	var errs []error
	if tx.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if tx.BankAccountID == "" {
		errs = append(errs, errors.New("bank account is required"))
	}
	if tx.ContentHash == "" {
		errs = append(errs, errors.New("content hash is required"))
	}
	if tx.Date.IsZero() {
		errs = append(errs, errors.New("date is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("transaction %q: %w", tx.ID, err)
	}
	return nil
}

// ValidateMatch checks the fields every backend requires.
func ValidateMatch(m model.Match) error {
	var errs []error
	if m.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if m.TransactionID == "" || m.ChargeID == "" {
		errs = append(errs, errors.New("transaction and charge are required"))
	}
	if m.Amount <= 0 {
		errs = append(errs, fmt.Errorf("amount must be positive: %s", m.Amount))
	}
	if m.Method != model.MethodAuto && m.Method != model.MethodManual {
		errs = append(errs, fmt.Errorf("unknown method %q", m.Method))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("match %q: %w", m.ID, err)
	}
	return nil
}
