package importer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cleared-dev/recon/internal/matching"
)

// ColumnRole is the meaning of a column in a bank export.
type ColumnRole string

const (
	RoleDate               ColumnRole = "date"
	RoleAmount             ColumnRole = "amount"
	RoleCredit             ColumnRole = "credit"
	RoleDebit              ColumnRole = "debit"
	RoleCounterpart        ColumnRole = "counterpart"
	RoleCounterpartAccount ColumnRole = "counterpart_account"
	RolePurpose            ColumnRole = "purpose"
	RoleReference          ColumnRole = "reference"
	RoleAccount            ColumnRole = "account" // the managed account a row belongs to
)

// aliases lists, per role and in order of preference, normalized header
// names seen in German and English bank exports. Roles are assigned in this
// order and a column is never used twice.
var aliases = []struct {
	role  ColumnRole
	names []string
}{
	{RoleDate, []string{"buchungstag", "buchungsdatum", "datum", "booking date", "posting date", "transaction date", "date", "valutadatum", "wertstellung", "valuta", "value date"}},
	{RoleAmount, []string{"betrag", "betrag eur", "betrag euro", "umsatz", "umsatz in eur", "amount", "amount eur", "value"}},
	{RoleCredit, []string{"haben", "gutschrift", "eingang", "credit", "credit amount", "paid in"}},
	{RoleDebit, []string{"soll", "lastschrift", "ausgang", "debit", "debit amount", "paid out"}},
	{RoleAccount, []string{"auftragskonto", "iban auftragskonto", "bezeichnung auftragskonto", "eigenes konto", "bank account", "own account", "account"}},
	{RoleCounterpartAccount, []string{"iban zahlungsbeteiligter", "kontonummer iban", "iban", "kontonummer", "konto", "counterparty iban", "counterparty account", "payer iban", "account number"}},
	{RoleCounterpart, []string{"beguenstigter zahlungspflichtiger", "auftraggeber empfaenger", "name zahlungsbeteiligter", "zahlungspflichtiger", "auftraggeber", "empfaenger", "counterparty", "counterpart", "payer", "payee", "name"}},
	{RolePurpose, []string{"verwendungszweck", "zweck", "purpose", "remittance information", "memo", "description", "details", "buchungstext"}},
	{RoleReference, []string{"end to end referenz", "kundenreferenz", "mandatsreferenz", "referenz", "reference", "ref", "check or slip"}},
}

// Mapping is the column-role schema of one file, detected once from its
// header row.
type Mapping struct {
	Columns []string           // header names as they appear in the file
	Roles   map[ColumnRole]int // role -> column index
}

// ErrNoHeader is returned when no header row with the required columns is
// found.
var ErrNoHeader = errors.New("no header row with date and amount columns")

// DetectMapping assigns roles to header names. A date column is required,
// and either an amount column or a credit or debit column.
func DetectMapping(headers []string) (Mapping, error) {
	norm := make([]string, len(headers))
	for i, h := range headers {
		norm[i] = matching.Normalize(h)
	}

	m := Mapping{Columns: append([]string(nil), headers...), Roles: make(map[ColumnRole]int)}
	used := make(map[int]bool)
	for _, a := range aliases {
	names:
		for _, name := range a.names {
			for i, h := range norm {
				if !used[i] && h == name {
					m.Roles[a.role] = i
					used[i] = true
					break names
				}
			}
		}
	}

	if !m.Has(RoleDate) || !(m.Has(RoleAmount) || m.Has(RoleCredit) || m.Has(RoleDebit)) {
		return Mapping{}, fmt.Errorf("detecting columns in %v: %w", headers, ErrNoHeader)
	}
	return m, nil
}

// Has reports whether the file has a column for role.
func (m Mapping) Has(role ColumnRole) bool {
	_, ok := m.Roles[role]
	return ok
}

// Value returns the trimmed field for role, or "" when the file or the row
// lacks it.
func (m Mapping) Value(record []string, role ColumnRole) string {
	i, ok := m.Roles[role]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// Describe lists "role=header" pairs in role order, for logs and errors.
func (m Mapping) Describe() string {
	var parts []string
	for _, a := range aliases {
		if i, ok := m.Roles[a.role]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", a.role, m.Columns[i]))
		}
	}
	return strings.Join(parts, ", ")
}
