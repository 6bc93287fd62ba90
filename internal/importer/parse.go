package importer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/recon/internal/model"
)

// ParseAmount parses a bank amount into minor units.
//
// A currency code or symbol may lead or trail the number; letters between
// digits are rejected. Spaces and apostrophes are ignored. Negative amounts
// may be written with a leading or trailing minus or in parentheses.
// Amounts with more than two decimals are rejected.
func ParseAmount(s string, f Format) (model.Amount, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty amount")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	var b strings.Builder
	// trailing is set once a letter or currency symbol follows a digit.
	trailing := false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',':
			if trailing {
				return 0, fmt.Errorf("parsing amount %q: letters inside the number", raw)
			}
			b.WriteRune(r)
		case r == '-' || r == '−':
			negative = !negative
		case r == '+', unicode.IsSpace(r), r == '\'':
		case unicode.IsLetter(r), unicode.Is(unicode.Sc, r):
			if b.Len() > 0 {
				trailing = true
			}
		default:
			return 0, fmt.Errorf("parsing amount %q: unexpected %q", raw, r)
		}
	}
	num := b.String()
	if num == "" {
		return 0, fmt.Errorf("parsing amount %q: no digits", raw)
	}

	num, err := normalizeSeparators(num, f.Decimal)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", raw, err)
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", raw, err)
	}
	a, ok := model.AmountFromDecimal(d)
	if !ok {
		return 0, fmt.Errorf("parsing amount %q: more than two decimals", raw)
	}
	if negative {
		a = -a
	}
	return a, nil
}

// normalizeSeparators rewrites num to use a single '.' as decimal point.
func normalizeSeparators(num string, style DecimalStyle) (string, error) {
	if style == DecimalAuto {
		style = guessDecimal(num)
	}
	thousands, dec := ",", "."
	if style == DecimalComma {
		thousands, dec = ".", ","
	}
	if strings.Count(num, dec) > 1 {
		return "", fmt.Errorf("more than one decimal separator %q", dec)
	}
	num = strings.ReplaceAll(num, thousands, "")
	return strings.Replace(num, dec, ".", 1), nil
}

// guessDecimal picks the separator that appears last when both are present.
// A lone comma followed by one or two digits is a decimal comma; any other
// lone separator follows the dot convention.
func guessDecimal(num string) DecimalStyle {
	lastDot, lastComma := strings.LastIndex(num, "."), strings.LastIndex(num, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			return DecimalComma
		}
		return DecimalDot
	case lastComma >= 0:
		if digits := len(num) - lastComma - 1; strings.Count(num, ",") == 1 && digits >= 1 && digits <= 2 {
			return DecimalComma
		}
	}
	return DecimalDot
}

// ParseDate parses a booking date with the format's layouts, first match
// wins. Dates without a zone are UTC.
func ParseDate(s string, f Format) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range f.DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing date %q: no %s layout matches", s, f.Name)
}

// ContentHash identifies a bank row by account, booking time, amount and
// purpose. Whitespace in the purpose is collapsed so re-exports with
// different wrapping still collide.
func ContentHash(account string, date time.Time, amount model.Amount, purpose string) string {
	parts := []string{
		"account:" + account,
		"date:" + date.UTC().Format(time.RFC3339),
		fmt.Sprintf("amount:%d", int64(amount)),
		"purpose:" + strings.Join(strings.Fields(purpose), " "),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
