package ledger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/recon/internal/model"
)

func TestChargesRoundTrip(t *testing.T) {
	charges := testCharges()
	charges[0].TenantReference = "DE89370400440532013000"
	charges[0].Reference = "M-1043"
	charges[0].UnitLabel = "Whg 3, EG links"
	charges[1].Frozen = true

	var buf bytes.Buffer
	require.NoError(t, WriteCharges(&buf, charges))

	got, err := ReadCharges(&buf)
	require.NoError(t, err)
	assert.Equal(t, charges, got)
}

func TestReadCharges_RemainingDefaultsToOriginal(t *testing.T) {
	csv := strings.Join(header, ",") + "\n" +
		"chg_1,pf1,ten_1,Hans Müller,,unit_1,Whg 1,,2024-03-01,850.00,,\n"

	got, err := ReadCharges(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.Amount(85000), got[0].Original)
	assert.Equal(t, model.Amount(85000), got[0].Remaining)
	assert.False(t, got[0].Frozen)
}

func TestReadCharges_Errors(t *testing.T) {
	head := strings.Join(header, ",") + "\n"
	tests := []struct {
		name string
		row  string
		want string
	}{
		{"bad date", "chg_1,pf1,,,,,,,03/01/2024,850.00,,", "parsing due_date"},
		{"bad amount", "chg_1,pf1,,,,,,,2024-03-01,eight,,", "parsing original_amount"},
		{"sub-cent", "chg_1,pf1,,,,,,,2024-03-01,850.001,,", "more than two decimals"},
		{"overpaid", "chg_1,pf1,,,,,,,2024-03-01,850.00,900.00,", "outside"},
		{"missing id", ",pf1,,,,,,,2024-03-01,850.00,,", "charge_id is required"},
		{"short row", "chg_1,pf1", "wrong number of fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCharges(strings.NewReader(head + tt.row + "\n"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadCharges_Empty(t *testing.T) {
	got, err := ReadCharges(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, got)
}
