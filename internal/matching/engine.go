package matching

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cleared-dev/recon/internal/model"
)

// Breakdown holds the points each signal contributed to a confidence. The
// points of evaluable signals add up to the confidence before rounding and
// before the identifier floor is applied.
type Breakdown struct {
	Identifier float64 `json:"identifier"`
	Name       float64 `json:"name"`
	Amount     float64 `json:"amount"`
	Date       float64 `json:"date"`
	Purpose    float64 `json:"purpose"`
}

// Candidate is a charge ranked against one transaction.
type Candidate struct {
	Charge        model.Charge `json:"charge"`
	Confidence    int          `json:"confidence"`
	Breakdown     Breakdown    `json:"breakdown"`
	AmountDiff    model.Amount `json:"amount_diff"`
	IdentifierHit bool         `json:"identifier_match"`
}

// Engine scores charges against transactions. It holds no state besides its
// configuration and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating matching config: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Rank scores every charge with a remaining balance and returns those with a
// positive confidence, best first, capped at MaxCandidates.
//
// Ties on confidence go to the earlier due date, then to the smaller amount
// difference, then to the lower charge id so the order never depends on the
// input order.
func (e *Engine) Rank(tx model.Transaction, charges []model.Charge) []Candidate {
	out := make([]Candidate, 0, len(charges))
	for _, ch := range charges {
		if ch.Remaining <= 0 {
			continue
		}
		c := e.Score(tx, ch)
		if c.Confidence > 0 {
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.Charge.DueDate.Equal(b.Charge.DueDate) {
			return a.Charge.DueDate.Before(b.Charge.DueDate)
		}
		if a.AmountDiff != b.AmountDiff {
			return a.AmountDiff < b.AmountDiff
		}
		return a.Charge.ID < b.Charge.ID
	})

	if len(out) > e.cfg.MaxCandidates {
		out = out[:e.cfg.MaxCandidates]
	}
	return out
}

// Score computes the confidence of a single charge.
//
// Signals without data on either side (no payer name, no account on file)
// are left out and the remaining weights are scaled up to 100. The purpose
// signal only enters the total when it finds something, so a blank purpose
// never drags a good match down.
func (e *Engine) Score(tx model.Transaction, ch model.Charge) Candidate {
	w := e.cfg.Weights
	got := tx.Unallocated()
	diff := (got - ch.Remaining).Abs()

	idRaw, idEval := e.identifier(tx, ch)
	nameEval := strings.TrimSpace(tx.CounterpartName) != "" && strings.TrimSpace(ch.TenantName) != ""
	var nameRaw float64
	if nameEval {
		nameRaw = NameSimilarity(tx.CounterpartName, ch.TenantName, e.cfg.NameFuzzyDrift)
	}
	amountRaw := e.amount(diff, ch.Remaining)
	dateRaw := e.date(model.DaysBetween(tx.Date, ch.DueDate))
	purposeRaw := e.purpose(tx.Purpose, ch)

	denom := w.Amount + w.Date
	if idEval {
		denom += w.Identifier
	}
	if nameEval {
		denom += w.Name
	}
	if purposeRaw > 0 {
		denom += w.Purpose
	}

	c := Candidate{Charge: ch, AmountDiff: diff, IdentifierHit: idRaw == 1}
	if denom == 0 {
		return c
	}
	scale := 100 / float64(denom)

	points := [5]float64{
		float64(w.Identifier) * idRaw * scale,
		float64(w.Name) * nameRaw * scale,
		float64(w.Amount) * amountRaw * scale,
		float64(w.Date) * dateRaw * scale,
		float64(w.Purpose) * purposeRaw * scale,
	}
	var sum float64
	for _, p := range points {
		sum += p
	}
	c.Breakdown = Breakdown{
		Identifier: round1(points[0]),
		Name:       round1(points[1]),
		Amount:     round1(points[2]),
		Date:       round1(points[3]),
		Purpose:    round1(points[4]),
	}

	total := int(math.Round(sum))
	if c.IdentifierHit && total < e.cfg.IdentifierFloor {
		total = e.cfg.IdentifierFloor
	}
	c.Confidence = clamp(total, 0, 100)
	return c
}

// identifier compares the payer account with the tenant's registered account
// and the transaction reference with the charge reference.
func (e *Engine) identifier(tx model.Transaction, ch model.Charge) (raw float64, evaluable bool) {
	if acct, ref := normalizeAccount(tx.CounterpartAccount), normalizeAccount(ch.TenantReference); acct != "" && ref != "" {
		evaluable = true
		if acct == ref {
			raw = 1
		}
	}
	if got, want := Normalize(tx.Reference), Normalize(ch.Reference); got != "" && want != "" {
		evaluable = true
		if got == want {
			raw = 1
		}
	}
	return raw, evaluable
}

func (e *Engine) amount(diff, remaining model.Amount) float64 {
	if diff == 0 {
		return 1
	}
	tol := e.cfg.AmountToleranceMinor
	if pct := int64(math.Round(float64(remaining) * e.cfg.AmountTolerancePercent / 100)); pct > tol {
		tol = pct
	}
	if tol <= 0 || int64(diff) >= tol {
		return 0
	}
	return 0.8 * (1 - float64(diff)/float64(tol))
}

func (e *Engine) date(days int) float64 {
	if days > e.cfg.DateWindowDays {
		return 0
	}
	return 1 - float64(days)/float64(e.cfg.DateWindowDays+1)
}

// purpose looks for the charge reference, the tenant name or the unit label
// in the transfer purpose, in that order of strength.
func (e *Engine) purpose(purpose string, ch model.Charge) float64 {
	p := Normalize(purpose)
	if p == "" {
		return 0
	}
	if containsPhrase(p, Normalize(ch.Reference)) {
		return 1
	}
	if name := Normalize(ch.TenantName); name != "" && allTokens(p, name) {
		return 0.7
	}
	if containsPhrase(p, Normalize(ch.UnitLabel)) {
		return 0.5
	}
	return 0
}

// Ambiguous reports whether the best two candidates are closer than epsilon.
func Ambiguous(cands []Candidate, epsilon int) bool {
	return len(cands) >= 2 && cands[0].Confidence-cands[1].Confidence < epsilon
}

func allTokens(haystack, needle string) bool {
	have := strings.Fields(haystack)
	for _, want := range strings.Fields(needle) {
		found := false
		for _, h := range have {
			if h == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func normalizeAccount(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if r != ' ' && r != '-' && r != '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
