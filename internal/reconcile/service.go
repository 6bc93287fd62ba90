// Package reconcile matches bank transactions to charges.
//
// Service ranks candidates, records manual matches, removes matches and
// runs auto-match passes. Every balance change takes the per-charge and
// per-transaction locks in a fixed order, decrements the charge through the
// ledger's conditional update and then records the match in the store,
// whose own guard keeps a transaction from being over-allocated. When the
// second write fails the first is compensated.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/recon/internal/events"
	"github.com/cleared-dev/recon/internal/id"
	"github.com/cleared-dev/recon/internal/ledger"
	"github.com/cleared-dev/recon/internal/matching"
	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/store"
)

// ErrInvalidArgument rejects malformed requests.
var ErrInvalidArgument = errors.New("invalid argument")

// defaultChunkSize is how many transactions an auto-match pass loads at once.
const defaultChunkSize = 200

// Thresholds are the confidence cut-offs.
type Thresholds struct {
	AutoConfirm      int // default minimum confidence for auto-match
	ReviewFlag       int // "fair" grade lower bound
	AmbiguityEpsilon int // top two closer than this are ambiguous
}

// PortfolioResolver maps a bank account to the portfolio whose charges it
// collects.
type PortfolioResolver interface {
	PortfolioFor(accountID string) (string, bool)
}

// Service is the reconciliation service.
type Service struct {
	store      store.Store
	ledger     ledger.Ledger
	engine     *matching.Engine
	portfolios PortfolioResolver
	thresholds Thresholds
	observer   events.Observer
	log        zerolog.Logger
	now        func() time.Time
	locks      *keyedLocks
	chunkSize  int
}

// NewService wires a service. A nil portfolios resolver puts every charge in
// scope for every account.
func NewService(s store.Store, l ledger.Ledger, e *matching.Engine, portfolios PortfolioResolver, th Thresholds, log zerolog.Logger) *Service {
	return &Service{
		store:      s,
		ledger:     l,
		engine:     e,
		portfolios: portfolios,
		thresholds: th,
		observer:   events.Nop{},
		log:        log.With().Str("component", "reconcile").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		locks:      newKeyedLocks(),
		chunkSize:  defaultChunkSize,
	}
}

// WithObserver reports created and deleted matches.
func (s *Service) WithObserver(o events.Observer) *Service {
	s.observer = o
	return s
}

// WithClock replaces the clock used for timestamps and overdue checks.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithChunkSize sets how many transactions an auto-match pass loads per page.
func (s *Service) WithChunkSize(n int) *Service {
	if n > 0 {
		s.chunkSize = n
	}
	return s
}

// Thresholds returns the configured thresholds.
func (s *Service) Thresholds() Thresholds { return s.thresholds }

// Suggestion is a ranked candidate with its grade.
type Suggestion struct {
	matching.Candidate
	Grade string `json:"grade"`
}

// Suggestions is the ranked candidate list for one transaction.
type Suggestions struct {
	Transaction model.Transaction `json:"transaction"`
	Candidates  []Suggestion      `json:"candidates"`
	Ambiguous   bool              `json:"ambiguous"`
}

// Suggest ranks the open charges for a transaction.
func (s *Service) Suggest(ctx context.Context, txnID string) (*Suggestions, error) {
	tx, err := s.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, fmt.Errorf("loading transaction %s: %w", txnID, err)
	}
	charges, err := s.openCharges(ctx, *tx)
	if err != nil {
		return nil, err
	}
	cands := s.engine.Rank(*tx, charges)

	out := &Suggestions{
		Transaction: *tx,
		Candidates:  make([]Suggestion, 0, len(cands)),
		Ambiguous:   matching.Ambiguous(cands, s.thresholds.AmbiguityEpsilon),
	}
	for _, c := range cands {
		out.Candidates = append(out.Candidates, Suggestion{
			Candidate: c,
			Grade:     matching.Grade(c.Confidence, s.thresholds.AutoConfirm, s.thresholds.ReviewFlag),
		})
	}
	return out, nil
}

// openCharges loads the charges a transaction may pay: the account's
// portfolio, due within the matching horizon of the booking date.
func (s *Service) openCharges(ctx context.Context, tx model.Transaction) ([]model.Charge, error) {
	horizon := s.engine.Config().HorizonDays
	day := tx.Date.UTC().Truncate(24 * time.Hour)
	q := ledger.Query{
		DueFrom: day.AddDate(0, 0, -horizon),
		DueTo:   day.AddDate(0, 0, horizon),
	}
	if s.portfolios != nil {
		pf, ok := s.portfolios.PortfolioFor(tx.BankAccountID)
		if !ok {
			return nil, nil
		}
		q.PortfolioID = pf
	}
	charges, err := s.ledger.OpenCharges(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing open charges: %w", err)
	}
	return charges, nil
}

// ManualMatch is a user-confirmed allocation.
type ManualMatch struct {
	TransactionID string       `json:"transaction_id"`
	ChargeID      string       `json:"charge_id"`
	Amount        model.Amount `json:"matched_amount"`
	Note          string       `json:"note,omitempty"`
}

// Match records a manual match. The amount must fit both the charge's
// remaining balance and the transaction's unallocated amount; it is never
// clamped. When the charge is among the transaction's candidates its
// confidence is recorded too.
func (s *Service) Match(ctx context.Context, req ManualMatch) (*model.Match, error) {
	if req.TransactionID == "" || req.ChargeID == "" {
		return nil, fmt.Errorf("%w: transaction_id and charge_id are required", ErrInvalidArgument)
	}
	m, _, err := s.commit(ctx, commitRequest{
		txnID:    req.TransactionID,
		chargeID: req.ChargeID,
		amount:   req.Amount,
		method:   model.MethodManual,
		note:     req.Note,
	})
	return m, err
}

type commitRequest struct {
	txnID      string
	chargeID   string
	amount     model.Amount
	method     model.MatchMethod
	confidence *int
	note       string
}

// commit applies a match and returns it with the updated charge. Observers
// hear about it after the locks are released.
func (s *Service) commit(ctx context.Context, req commitRequest) (*model.Match, *model.Charge, error) {
	if req.amount <= 0 {
		return nil, nil, &ValidationError{Bound: BoundPositive, Requested: req.amount}
	}

	m, updated, err := s.applyLocked(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("match_id", m.ID).
		Str("transaction_id", m.TransactionID).
		Str("charge_id", m.ChargeID).
		Str("amount", m.Amount.String()).
		Str("method", string(m.Method)).
		Msg("match created")
	s.observer.Notify(ctx, events.Event{
		Type:    events.MatchCreated,
		At:      m.CreatedAt,
		Subject: m.ID,
		Data: map[string]any{
			"transaction_id":   m.TransactionID,
			"charge_id":        m.ChargeID,
			"matched_amount":   m.Amount.String(),
			"method":           string(m.Method),
			"charge_remaining": updated.Remaining.String(),
		},
	})
	return m, updated, nil
}

// applyLocked writes the ledger and the store while holding the charge and
// transaction locks.
func (s *Service) applyLocked(ctx context.Context, req commitRequest) (*model.Match, *model.Charge, error) {
	unlock := s.locks.lock(chargeKey(req.chargeID), txnKey(req.txnID))
	defer unlock()

	tx, err := s.store.GetTransaction(ctx, req.txnID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading transaction %s: %w", req.txnID, err)
	}
	if tx.Amount < 0 {
		return nil, nil, fmt.Errorf("%w: transaction %s is an outgoing payment", ErrInvalidArgument, req.txnID)
	}
	ch, err := s.ledger.Charge(ctx, req.chargeID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading charge %s: %w", req.chargeID, err)
	}
	if err := checkBounds(req.amount, *tx, *ch); err != nil {
		return nil, nil, err
	}

	if req.confidence == nil && req.method == model.MethodManual {
		if c := s.engine.Score(*tx, *ch); c.Confidence > 0 {
			req.confidence = &c.Confidence
		}
	}

	updated, err := s.ledger.Apply(ctx, req.chargeID, req.amount)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientRemaining) {
			return nil, nil, s.explainInsufficient(ctx, req)
		}
		return nil, nil, fmt.Errorf("applying %s to charge %s: %w", req.amount, req.chargeID, err)
	}

	m := &model.Match{
		ID:            id.New(id.Match),
		TransactionID: req.txnID,
		ChargeID:      req.chargeID,
		Amount:        req.amount,
		Confidence:    req.confidence,
		Method:        req.method,
		Note:          req.note,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreateMatch(ctx, m); err != nil {
		s.compensate(ctx, "reverse", req.chargeID, req.amount, err)
		if errors.Is(err, store.ErrOverAllocated) {
			fresh, gerr := s.store.GetTransaction(context.WithoutCancel(ctx), req.txnID)
			if gerr == nil {
				return nil, nil, &ValidationError{Bound: BoundTransactionUnallocated, Requested: req.amount, Available: fresh.Unallocated()}
			}
			return nil, nil, fmt.Errorf("recording match: %w", ErrConcurrencyConflict)
		}
		return nil, nil, fmt.Errorf("recording match: %w", err)
	}
	return m, updated, nil
}

func checkBounds(amount model.Amount, tx model.Transaction, ch model.Charge) error {
	if amount > ch.Remaining {
		return &ValidationError{Bound: BoundChargeRemaining, Requested: amount, Available: ch.Remaining}
	}
	if amount > tx.Unallocated() {
		return &ValidationError{Bound: BoundTransactionUnallocated, Requested: amount, Available: tx.Unallocated()}
	}
	return nil
}

// explainInsufficient turns a failed conditional decrement into a
// validation error when the balance really is too small, or a conflict when
// it moved under us.
func (s *Service) explainInsufficient(ctx context.Context, req commitRequest) error {
	ch, err := s.ledger.Charge(ctx, req.chargeID)
	if err != nil {
		return fmt.Errorf("applying %s to charge %s: %w", req.amount, req.chargeID, ErrConcurrencyConflict)
	}
	if req.amount > ch.Remaining {
		return &ValidationError{Bound: BoundChargeRemaining, Requested: req.amount, Available: ch.Remaining}
	}
	return fmt.Errorf("applying %s to charge %s: %w", req.amount, req.chargeID, ErrConcurrencyConflict)
}

// compensate undoes a ledger write whose store write failed. A failure here
// leaves the charge balance out of step with the matches and is logged at
// error level.
func (s *Service) compensate(ctx context.Context, action, chargeID string, amount model.Amount, cause error) {
	ctx = context.WithoutCancel(ctx)
	var err error
	switch action {
	case "reverse":
		_, err = s.ledger.Reverse(ctx, chargeID, amount)
	case "apply":
		_, err = s.ledger.Apply(ctx, chargeID, amount)
	}
	if err != nil {
		s.log.Error().
			Err(err).
			AnErr("cause", cause).
			Str("charge_id", chargeID).
			Str("amount", amount.String()).
			Str("action", action).
			Msg("compensating ledger write failed, charge balance needs repair")
	}
}

// Unmatch deletes a match and restores the charge balance. It fails with
// ledger.ErrFrozen when the ledger has frozen the charge.
func (s *Service) Unmatch(ctx context.Context, matchID string) (*model.Match, error) {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("loading match %s: %w", matchID, err)
	}

	m, updated, err := s.removeLocked(ctx, m)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("match_id", m.ID).
		Str("transaction_id", m.TransactionID).
		Str("charge_id", m.ChargeID).
		Str("amount", m.Amount.String()).
		Msg("match deleted")
	s.observer.Notify(ctx, events.Event{
		Type:    events.MatchDeleted,
		At:      s.now(),
		Subject: m.ID,
		Data: map[string]any{
			"transaction_id":   m.TransactionID,
			"charge_id":        m.ChargeID,
			"matched_amount":   m.Amount.String(),
			"charge_remaining": updated.Remaining.String(),
		},
	})
	return m, nil
}

// removeLocked reverses the ledger and deletes the match while holding the
// charge and transaction locks.
func (s *Service) removeLocked(ctx context.Context, found *model.Match) (*model.Match, *model.Charge, error) {
	unlock := s.locks.lock(chargeKey(found.ChargeID), txnKey(found.TransactionID))
	defer unlock()

	// Another caller may have removed it while we waited.
	m, err := s.store.GetMatch(ctx, found.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading match %s: %w", found.ID, err)
	}

	updated, err := s.ledger.Reverse(ctx, m.ChargeID, m.Amount)
	if err != nil {
		return nil, nil, fmt.Errorf("restoring charge %s: %w", m.ChargeID, err)
	}
	if err := s.store.DeleteMatch(ctx, m.ID); err != nil {
		s.compensate(ctx, "apply", m.ChargeID, m.Amount, err)
		return nil, nil, fmt.Errorf("deleting match %s: %w", m.ID, err)
	}
	return m, updated, nil
}
