package importer

import (
	"encoding/csv"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/recon/internal/model"
)

func mustFormat(t *testing.T, name string) Format {
	t.Helper()
	f, ok := DefaultRegistry().Get(name)
	require.True(t, ok, name)
	return f
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in     string
		format string
		want   model.Amount
	}{
		{"850,00", "de", 85000},
		{"-1.234,56", "de", -123456},
		{"1.234,5 EUR", "de", 123450},
		{"850,00-", "de", -85000},
		{"12", "de", 1200},
		{"1,250.00", "us", 125000},
		{"-84.17", "us", -8417},
		{"(84.17)", "us", -8417},
		{"$ 1,250.00", "us", 125000},
		{"+980.00", "iso", 98000},
		{"850,00", "auto", 85000},
		{"1.234,56", "auto", 123456},
		{"1,234.56", "auto", 123456},
		{"1,234", "auto", 123400},
		{"0.5", "auto", 50},
		{"€ −12,50", "auto", -1250},
		{"850,00EUR", "de", 85000},
		{"USD 1 250.00", "us", 125000},
	}
	for _, tt := range tests {
		t.Run(tt.format+" "+tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in, mustFormat(t, tt.format))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAmount_Errors(t *testing.T) {
	de := mustFormat(t, "de")
	for _, in := range []string{"", "abc", "1,2,3", "850,001", "12#00", "85O,00", "12a34", "8x50,00", "EUR 850 EUR 5"} {
		_, err := ParseAmount(in, de)
		assert.Error(t, err, in)
	}

	_, err := ParseAmount("85O,00", de)
	assert.ErrorContains(t, err, "letters inside the number")
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in     string
		format string
		want   time.Time
	}{
		{"01.03.2024", "de", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"01.03.24", "de", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"03/01/2024", "us", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-03-01", "iso", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-03-01T14:30:00+01:00", "iso", time.Date(2024, 3, 1, 13, 30, 0, 0, time.UTC)},
		{"01.03.2024 09:15", "auto", time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in, mustFormat(t, tt.format))
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := ParseDate("31.02.2024", mustFormat(t, "de"))
	assert.Error(t, err)
	_, err = ParseDate("", mustFormat(t, "de"))
	assert.Error(t, err)
}

func TestContentHash(t *testing.T) {
	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	h := ContentHash("acc1", d, 85000, "Miete  Maerz")

	assert.Len(t, h, 64)
	assert.Equal(t, h, ContentHash("acc1", d, 85000, " Miete Maerz "))
	assert.NotEqual(t, h, ContentHash("acc2", d, 85000, "Miete Maerz"))
	assert.NotEqual(t, h, ContentHash("acc1", d.AddDate(0, 0, 1), 85000, "Miete Maerz"))
	assert.NotEqual(t, h, ContentHash("acc1", d, 85001, "Miete Maerz"))
	assert.NotEqual(t, h, ContentHash("acc1", d, 85000, "Miete April"))
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"auto", "de", "iso", "us"}, r.Names())

	f, ok := r.Get("DE")
	require.True(t, ok)
	assert.Equal(t, ';', f.Delimiter)

	f, ok = r.Get("")
	require.True(t, ok)
	assert.Equal(t, "auto", f.Name)

	_, ok = r.Get("mt940")
	assert.False(t, ok)

	assert.Panics(t, func() { r.Register(Format{Name: "De"}) })
}

func TestSniffDelimiter(t *testing.T) {
	tests := []struct {
		name   string
		sample string
		want   rune
	}{
		{"semicolon with decimal commas", "Datum;Betrag;Zweck\n01.03.2024;850,00;Miete, Maerz\n02.03.2024;12,00;Kaffee\n", ';'},
		{"comma with quoted semicolons", "Date,Amount,Memo\n03/01/2024,850.00,\"Rent; March\"\n03/02/2024,12.00,Coffee\n", ','},
		{"tab", "Date\tAmount\n2024-03-01\t850.00\n", '\t'},
		{"preamble", "Konto;DE89\nZeitraum;Maerz\n\nDatum;Betrag;Zweck;Ref\n01.03.2024;850,00;Miete;\n02.03.2024;12,00;Kaffee;\n03.03.2024;1,00;Tee;\n", ';'},
		{"nothing", "justoneword\n", ','},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SniffDelimiter([]byte(tt.sample)))
		})
	}
}

func TestDetectMapping(t *testing.T) {
	m, err := DetectMapping([]string{"Buchungstag", "Valutadatum", "Auftraggeber/Empfänger", "IBAN", "Verwendungszweck", "Betrag (EUR)"})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Roles[RoleDate])
	assert.Equal(t, 2, m.Roles[RoleCounterpart])
	assert.Equal(t, 3, m.Roles[RoleCounterpartAccount])
	assert.Equal(t, 4, m.Roles[RolePurpose])
	assert.Equal(t, 5, m.Roles[RoleAmount])
	assert.False(t, m.Has(RoleReference))
	assert.Equal(t, "date=Buchungstag, amount=Betrag (EUR), counterpart_account=IBAN, counterpart=Auftraggeber/Empfänger, purpose=Verwendungszweck", m.Describe())

	m, err = DetectMapping([]string{"Posting Date", "Description", "Amount", "Check or Slip #"})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Roles[RolePurpose])
	assert.Equal(t, 3, m.Roles[RoleReference])

	m, err = DetectMapping([]string{"Datum", "Soll", "Haben"})
	require.NoError(t, err)
	assert.True(t, m.Has(RoleDebit))
	assert.True(t, m.Has(RoleCredit))

	_, err = DetectMapping([]string{"Datum", "Zweck"})
	assert.ErrorIs(t, err, ErrNoHeader)
	_, err = DetectMapping([]string{"Betrag"})
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestMapping_Value(t *testing.T) {
	m, err := DetectMapping([]string{"Datum", "Betrag", "Zweck"})
	require.NoError(t, err)
	assert.Equal(t, "Miete", m.Value([]string{"01.03.2024", "850,00", "  Miete "}, RolePurpose))
	assert.Equal(t, "", m.Value([]string{"01.03.2024"}, RolePurpose))
	assert.Equal(t, "", m.Value([]string{"01.03.2024", "1", "x"}, RoleReference))
}

func TestReader_Chunks(t *testing.T) {
	data := "\xEF\xBB\xBFExport vom 31.03.2024\n\nDatum;Betrag\n01.03.2024;1,00\n;\n02.03.2024;2,00\n03.03.2024;3,00\n"
	rd, err := NewReader(strings.NewReader(data), mustFormat(t, "auto"))
	require.NoError(t, err)
	assert.Equal(t, ';', rd.Format().Delimiter)
	assert.Equal(t, 3, rd.HeaderLine())

	rows, err := rd.ReadChunk(2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 4, rows[0].Line)
	assert.Equal(t, 6, rows[1].Line, "blank rows are skipped")

	rows, err = rd.ReadChunk(2)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"03.03.2024", "3,00"}, rows[0].Fields)
}

func TestReader_MalformedRowKeepsText(t *testing.T) {
	data := "\"Konto\";\"DE89\"x\nDatum;Betrag\n01.03.2024;1\"0\r\n02.03.2024;2,00\n"
	rd, err := NewReader(strings.NewReader(data), mustFormat(t, "de"))
	require.NoError(t, err, "broken preamble lines are skipped")
	assert.Equal(t, 2, rd.HeaderLine())

	rows, err := rd.ReadChunk(10)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].Fields)
	assert.ErrorIs(t, rows[0].Err, csv.ErrBareQuote)
	assert.Equal(t, `01.03.2024;1"0`, rows[0].Text)
	assert.Equal(t, []string{"02.03.2024", "2,00"}, rows[1].Fields)
}

func TestReader_NoHeader(t *testing.T) {
	data := strings.Repeat("x;y\n", maxPreambleLines+1) + "Datum;Betrag\n"
	_, err := NewReader(strings.NewReader(data), mustFormat(t, "de"))
	assert.ErrorIs(t, err, ErrNoHeader)
}
