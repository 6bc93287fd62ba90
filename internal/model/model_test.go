package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAmountString(t *testing.T) {
	tests := []struct {
		amount Amount
		want   string
	}{
		{85000, "850.00"},
		{-1250, "-12.50"},
		{5, "0.05"},
		{0, "0.00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.amount.String())
	}
}

func TestAmountFromDecimal(t *testing.T) {
	a, ok := AmountFromDecimal(decimal.RequireFromString("1234.56"))
	assert.True(t, ok)
	assert.Equal(t, Amount(123456), a)

	a, ok = AmountFromDecimal(decimal.RequireFromString("-0.5"))
	assert.True(t, ok)
	assert.Equal(t, Amount(-50), a)

	_, ok = AmountFromDecimal(decimal.RequireFromString("1.234"))
	assert.False(t, ok)
}

func TestAllocationStateOf(t *testing.T) {
	assert.Equal(t, StateUnmatched, AllocationStateOf(85000, 0))
	assert.Equal(t, StatePartiallyMatched, AllocationStateOf(85000, 40000))
	assert.Equal(t, StateFullyMatched, AllocationStateOf(85000, 85000))
	assert.Equal(t, StatePartiallyMatched, AllocationStateOf(-85000, 100))
}

func TestTransactionUnallocated(t *testing.T) {
	txn := Transaction{Amount: -30000, Allocated: 10000}
	assert.Equal(t, Amount(20000), txn.Unallocated())
	assert.Equal(t, StatePartiallyMatched, txn.State())
	assert.False(t, txn.IsCredit())
}

func TestChargeStatus(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	due := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	future := time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		charge Charge
		want   ChargeStatus
		base   ChargeStatus
	}{
		{"open", Charge{DueDate: future, Original: 85000, Remaining: 85000}, ChargeOpen, ChargeOpen},
		{"overdue", Charge{DueDate: due, Original: 85000, Remaining: 85000}, ChargeOverdue, ChargeOpen},
		{"partial", Charge{DueDate: future, Original: 85000, Remaining: 45000}, ChargePartiallyPaid, ChargePartiallyPaid},
		{"partial overdue", Charge{DueDate: due, Original: 85000, Remaining: 45000}, ChargeOverdue, ChargePartiallyPaid},
		{"paid", Charge{DueDate: due, Original: 85000, Remaining: 0}, ChargePaid, ChargePaid},
		{"due today", Charge{DueDate: now, Original: 85000, Remaining: 85000}, ChargeOpen, ChargeOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.charge.Status(now))
			assert.Equal(t, tt.base, tt.charge.PaymentState())
		})
	}
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2025, 3, 6, 23, 59, 0, 0, time.UTC)
	b := time.Date(2025, 3, 3, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, 3, DaysBetween(a, b))
	assert.Equal(t, 3, DaysBetween(b, a))
}
