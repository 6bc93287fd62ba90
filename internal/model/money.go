package model

import "github.com/shopspring/decimal"

// Amount is a monetary value in minor units (cents). Every account has a
// single currency with two decimal places.
type Amount int64

// minorExp is the decimal exponent of one minor unit.
const minorExp = -2

// Abs returns the absolute value.
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), minorExp)
}

// String formats the amount like "850.00" or "-12.50".
func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// AmountFromDecimal converts a major-unit decimal to minor units.
// ok is false when d carries more precision than one minor unit.
func AmountFromDecimal(d decimal.Decimal) (amount Amount, ok bool) {
	shifted := d.Shift(-minorExp)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, false
	}
	return Amount(shifted.IntPart()), true
}

// MinAmount returns the smaller of a and b.
func MinAmount(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}
