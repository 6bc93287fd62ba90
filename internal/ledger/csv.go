package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/recon/internal/model"
)

const (
	numFields     = 12
	colID         = 0
	colPortfolio  = 1
	colTenantID   = 2
	colTenantName = 3
	colTenantRef  = 4
	colUnitID     = 5
	colUnitLabel  = 6
	colReference  = 7
	colDueDate    = 8
	colOriginal   = 9
	colRemaining  = 10
	colFrozen     = 11
	dueDateLayout = "2006-01-02"
)

var header = []string{
	"charge_id", "portfolio_id", "tenant_id", "tenant_name", "tenant_reference", "unit_id",
	"unit_label", "reference", "due_date", "original_amount", "remaining_amount", "frozen",
}

// ReadCharges reads a charges CSV with a header row. An empty
// remaining_amount means nothing is paid yet.
func ReadCharges(r io.Reader) ([]model.Charge, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading charges CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	var charges []model.Charge
	for i, rec := range records[1:] {
		c, err := UnmarshalCharge(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		charges = append(charges, c)
	}
	return charges, nil
}

// WriteCharges writes a charges CSV.
func WriteCharges(w io.Writer, charges []model.Charge) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, c := range charges {
		if err := cw.Write(MarshalCharge(c)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalCharge converts a Charge to a CSV row.
func MarshalCharge(c model.Charge) []string {
	row := make([]string, numFields)
	row[colID] = c.ID
	row[colPortfolio] = c.PortfolioID
	row[colTenantID] = c.TenantID
	row[colTenantName] = c.TenantName
	row[colTenantRef] = c.TenantReference
	row[colUnitID] = c.UnitID
	row[colUnitLabel] = c.UnitLabel
	row[colReference] = c.Reference
	row[colDueDate] = c.DueDate.Format(dueDateLayout)
	row[colOriginal] = c.Original.String()
	row[colRemaining] = c.Remaining.String()
	row[colFrozen] = strconv.FormatBool(c.Frozen)
	return row
}

// UnmarshalCharge converts a CSV row to a Charge.
func UnmarshalCharge(record []string) (model.Charge, error) {
	if len(record) != numFields {
		return model.Charge{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}
	if record[colID] == "" {
		return model.Charge{}, fmt.Errorf("charge_id is required")
	}

	due, err := time.Parse(dueDateLayout, record[colDueDate])
	if err != nil {
		return model.Charge{}, fmt.Errorf("parsing due_date %q: %w", record[colDueDate], err)
	}

	original, err := parseAmount(record[colOriginal])
	if err != nil {
		return model.Charge{}, fmt.Errorf("parsing original_amount: %w", err)
	}
	if original <= 0 {
		return model.Charge{}, fmt.Errorf("original_amount must be positive: %s", original)
	}

	remaining := original
	if record[colRemaining] != "" {
		remaining, err = parseAmount(record[colRemaining])
		if err != nil {
			return model.Charge{}, fmt.Errorf("parsing remaining_amount: %w", err)
		}
		if remaining < 0 || remaining > original {
			return model.Charge{}, fmt.Errorf("remaining_amount %s outside [0, %s]", remaining, original)
		}
	}

	var frozen bool
	if record[colFrozen] != "" {
		frozen, err = strconv.ParseBool(record[colFrozen])
		if err != nil {
			return model.Charge{}, fmt.Errorf("parsing frozen %q: %w", record[colFrozen], err)
		}
	}

	return model.Charge{
		ID:              record[colID],
		PortfolioID:     record[colPortfolio],
		TenantID:        record[colTenantID],
		TenantName:      record[colTenantName],
		TenantReference: record[colTenantRef],
		UnitID:          record[colUnitID],
		UnitLabel:       record[colUnitLabel],
		Reference:       record[colReference],
		DueDate:         due,
		Original:        original,
		Remaining:       remaining,
		Frozen:          frozen,
	}, nil
}

func parseAmount(s string) (model.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, err)
	}
	a, ok := model.AmountFromDecimal(d)
	if !ok {
		return 0, fmt.Errorf("%q has more than two decimals", s)
	}
	return a, nil
}
