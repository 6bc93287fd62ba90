package matching

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/recon/internal/model"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	return e
}

func rentCharge(id, tenant string, due string, amount model.Amount) model.Charge {
	return model.Charge{
		ID:          id,
		PortfolioID: "pf1",
		TenantID:    "ten_" + id,
		TenantName:  tenant,
		UnitID:      "unit_" + id,
		DueDate:     day(due),
		Original:    amount,
		Remaining:   amount,
	}
}

func TestRank_ExactNameAmountNearDate(t *testing.T) {
	e := newTestEngine(t)
	tx := model.Transaction{
		ID:              "txn_1",
		Date:            day("2024-03-04"),
		Amount:          85000,
		CounterpartName: "HANS MUELLER",
		Purpose:         "Miete Maerz",
	}
	charges := []model.Charge{
		rentCharge("chg_a", "Hans Müller", "2024-03-01", 85000),
		rentCharge("chg_b", "Petra Schmidt", "2024-03-01", 72000),
	}

	cands := e.Rank(tx, charges)
	require.NotEmpty(t, cands)
	assert.Equal(t, "chg_a", cands[0].Charge.ID)
	assert.GreaterOrEqual(t, cands[0].Confidence, 90)
	assert.Equal(t, model.Amount(0), cands[0].AmountDiff)
	assert.Greater(t, cands[0].Breakdown.Name, 0.0)
	assert.Greater(t, cands[0].Breakdown.Amount, 0.0)
	assert.Greater(t, cands[0].Breakdown.Date, 0.0)
	assert.Zero(t, cands[0].Breakdown.Identifier)
}

func TestRank_IdentifierAloneJustifiesHighScore(t *testing.T) {
	e := newTestEngine(t)
	ch := rentCharge("chg_a", "Hans Müller", "2024-03-01", 85000)
	ch.TenantReference = "DE89 3704 0044 0532 0130 00"

	tx := model.Transaction{
		ID:                 "txn_1",
		Date:               day("2024-03-25"),
		Amount:             40000,
		CounterpartName:    "Some Company GmbH",
		CounterpartAccount: "DE89370400440532013000",
	}

	c := e.Score(tx, ch)
	assert.True(t, c.IdentifierHit)
	assert.GreaterOrEqual(t, c.Confidence, DefaultConfig().IdentifierFloor)
}

func TestRank_ReferenceTokenIsIdentifier(t *testing.T) {
	e := newTestEngine(t)
	ch := rentCharge("chg_a", "Hans Müller", "2024-03-01", 85000)
	ch.Reference = "M-1043"

	tx := model.Transaction{Date: day("2024-03-01"), Amount: 85000, Reference: "m 1043"}
	assert.True(t, e.Score(tx, ch).IdentifierHit)
}

func TestRank_NoNameSignalsIsAmbiguous(t *testing.T) {
	e := newTestEngine(t)
	tx := model.Transaction{
		ID:      "txn_1",
		Date:    day("2024-03-01"),
		Amount:  85000,
		Purpose: "Miete",
	}
	charges := []model.Charge{
		rentCharge("chg_a", "Hans Müller", "2024-03-01", 85000),
		rentCharge("chg_b", "Petra Schmidt", "2024-03-01", 85000),
	}

	cands := e.Rank(tx, charges)
	require.Len(t, cands, 2)
	assert.Equal(t, cands[0].Confidence, cands[1].Confidence)
	assert.True(t, Ambiguous(cands, 5))
	assert.Equal(t, "chg_a", cands[0].Charge.ID, "equal scores fall back to id order")
}

func TestRank_TieBreaks(t *testing.T) {
	e := newTestEngine(t)
	tx := model.Transaction{Date: day("2024-03-15"), Amount: 50000}

	later := rentCharge("chg_later", "A", "2024-03-20", 50000)
	earlier := rentCharge("chg_earlier", "B", "2024-03-10", 50000)

	cands := e.Rank(tx, []model.Charge{later, earlier})
	require.Len(t, cands, 2)
	require.Equal(t, cands[0].Confidence, cands[1].Confidence)
	assert.Equal(t, "chg_earlier", cands[0].Charge.ID)
}

func TestRank_SkipsSettledAndCaps(t *testing.T) {
	e := newTestEngine(t)
	tx := model.Transaction{Date: day("2024-03-01"), Amount: 10000}

	var charges []model.Charge
	for i := 0; i < 25; i++ {
		charges = append(charges, rentCharge(fmt.Sprintf("chg_%02d", i), "T", "2024-03-01", 10000))
	}
	paid := rentCharge("chg_paid", "T", "2024-03-01", 10000)
	paid.Remaining = 0
	charges = append(charges, paid)

	cands := e.Rank(tx, charges)
	assert.Len(t, cands, DefaultConfig().MaxCandidates)
	for _, c := range cands {
		assert.NotEqual(t, "chg_paid", c.Charge.ID)
	}
}

func TestRank_Deterministic(t *testing.T) {
	e := newTestEngine(t)
	tx := model.Transaction{Date: day("2024-03-03"), Amount: 72000, CounterpartName: "Schmidt"}

	charges := []model.Charge{
		rentCharge("chg_1", "Petra Schmidt", "2024-03-01", 72000),
		rentCharge("chg_2", "Petra Schmidt", "2024-02-01", 72000),
		rentCharge("chg_3", "Jan Schmidt", "2024-03-01", 71800),
		rentCharge("chg_4", "Olga Braun", "2024-03-05", 72000),
		rentCharge("chg_5", "Olga Braun", "2024-03-05", 90000),
	}
	want := e.Rank(tx, charges)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]model.Charge(nil), charges...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, e.Rank(tx, shuffled))
	}
}

func TestScore_AmountBand(t *testing.T) {
	e := newTestEngine(t)
	ch := rentCharge("chg_a", "X", "2024-03-01", 85000)

	exact := e.Score(model.Transaction{Date: day("2024-03-01"), Amount: 85000}, ch)
	near := e.Score(model.Transaction{Date: day("2024-03-01"), Amount: 84900}, ch)
	far := e.Score(model.Transaction{Date: day("2024-03-01"), Amount: 40000}, ch)

	assert.Greater(t, exact.Breakdown.Amount, near.Breakdown.Amount)
	assert.Greater(t, near.Breakdown.Amount, 0.0)
	assert.Zero(t, far.Breakdown.Amount)
	assert.Equal(t, model.Amount(45000), far.AmountDiff)
}

func TestScore_DateWindow(t *testing.T) {
	e := newTestEngine(t)
	ch := rentCharge("chg_a", "X", "2024-03-01", 85000)

	same := e.Score(model.Transaction{Date: day("2024-03-01"), Amount: 85000}, ch)
	inside := e.Score(model.Transaction{Date: day("2024-03-08"), Amount: 85000}, ch)
	outside := e.Score(model.Transaction{Date: day("2024-04-01"), Amount: 85000}, ch)

	assert.Greater(t, same.Breakdown.Date, inside.Breakdown.Date)
	assert.Greater(t, inside.Breakdown.Date, 0.0)
	assert.Zero(t, outside.Breakdown.Date)
}

func TestScore_PurposeSignals(t *testing.T) {
	e := newTestEngine(t)
	ch := rentCharge("chg_a", "Hans Müller", "2024-03-01", 85000)
	ch.Reference = "R-2024-03-17"
	ch.UnitLabel = "Whg 3"

	tests := []struct {
		purpose string
		want    bool
	}{
		{"Miete R-2024-03-17", true},
		{"Miete Hans Mueller", true},
		{"Miete WHG 3 Maerz", true},
		{"Miete", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.purpose, func(t *testing.T) {
			c := e.Score(model.Transaction{Date: day("2024-03-01"), Amount: 85000, Purpose: tt.purpose}, ch)
			assert.Equal(t, tt.want, c.Breakdown.Purpose > 0)
		})
	}
}

func TestScore_BreakdownSumsToConfidence(t *testing.T) {
	e := newTestEngine(t)
	ch := rentCharge("chg_a", "Hans Müller", "2024-03-01", 85000)
	tx := model.Transaction{Date: day("2024-03-04"), Amount: 84000, CounterpartName: "Hans", Purpose: "Miete Mueller"}

	c := e.Score(tx, ch)
	b := c.Breakdown
	sum := b.Identifier + b.Name + b.Amount + b.Date + b.Purpose
	assert.InDelta(t, float64(c.Confidence), sum, 1.0)
}

func TestScore_UsesUnallocatedRemainder(t *testing.T) {
	e := newTestEngine(t)
	ch := rentCharge("chg_a", "X", "2024-03-01", 45000)
	tx := model.Transaction{Date: day("2024-03-01"), Amount: 85000, Allocated: 40000}

	c := e.Score(tx, ch)
	assert.Equal(t, model.Amount(0), c.AmountDiff)
}

func TestGrade(t *testing.T) {
	assert.Equal(t, "good", Grade(80, 80, 60))
	assert.Equal(t, "fair", Grade(79, 80, 60))
	assert.Equal(t, "fair", Grade(60, 80, 60))
	assert.Equal(t, "poor", Grade(59, 80, 60))
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Weights.Name = 50
	cfg.MaxCandidates = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 100")
	assert.Contains(t, err.Error(), "identifier weight must be the highest")
	assert.Contains(t, err.Error(), "max candidates")

	_, err = NewEngine(cfg)
	assert.ErrorContains(t, err, "validating matching config")
}
