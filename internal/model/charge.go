package model

import "time"

// ChargeStatus is the derived payment status of a charge.
type ChargeStatus string

const (
	ChargeOpen          ChargeStatus = "open"
	ChargeOverdue       ChargeStatus = "overdue"
	ChargePartiallyPaid ChargeStatus = "partially_paid"
	ChargePaid          ChargeStatus = "paid"
)

// Charge is an outstanding receivable owed by a tenant. The record is owned
// by the external charge ledger; only Remaining changes through matching.
type Charge struct {
	ID              string    `json:"id"`
	PortfolioID     string    `json:"portfolio_id"`
	TenantID        string    `json:"tenant_id"`
	TenantName      string    `json:"tenant_name"`
	TenantReference string    `json:"tenant_reference,omitempty"` // registered payer IBAN/account
	UnitID          string    `json:"unit_id"`
	UnitLabel       string    `json:"unit_label,omitempty"`
	Reference       string    `json:"reference,omitempty"` // token tenants put in the transfer purpose
	DueDate         time.Time `json:"due_date"`
	Original        Amount    `json:"original_amount"`
	Remaining       Amount    `json:"remaining_amount"`
	Frozen          bool      `json:"frozen"`
}

// Allocated is the amount already matched against the charge.
func (c Charge) Allocated() Amount {
	return c.Original - c.Remaining
}

// PaymentState ignores the due date: open, partially_paid or paid.
func (c Charge) PaymentState() ChargeStatus {
	switch {
	case c.Remaining <= 0:
		return ChargePaid
	case c.Remaining < c.Original:
		return ChargePartiallyPaid
	default:
		return ChargeOpen
	}
}

// Overdue reports whether money is still owed after the due date.
func (c Charge) Overdue(now time.Time) bool {
	return c.Remaining > 0 && dateOnly(c.DueDate).Before(dateOnly(now))
}

// Status folds the overdue flag into the payment state.
func (c Charge) Status(now time.Time) ChargeStatus {
	if c.Overdue(now) {
		return ChargeOverdue
	}
	return c.PaymentState()
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute number of calendar days between a and b.
func DaysBetween(a, b time.Time) int {
	days := int(dateOnly(a).Sub(dateOnly(b)).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}
