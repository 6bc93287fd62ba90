package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/cleared-dev/recon/internal/ledger"
	"github.com/cleared-dev/recon/internal/matching"
	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/store"
)

// AutoMatchRequest scopes an auto-match pass.
type AutoMatchRequest struct {
	BankAccountID string `json:"bank_account_id,omitempty"`
	MinConfidence *int   `json:"min_confidence,omitempty"` // nil = configured auto_confirm
}

// Threshold returns n as an explicit AutoMatchRequest.MinConfidence.
func Threshold(n int) *int { return &n }

// Stats summarizes an auto-match pass.
type Stats struct {
	TotalTransactions int  `json:"total_transactions"`
	TotalCharges      int  `json:"total_charges"`
	Matched           int  `json:"matched"`
	Open              int  `json:"open"`
	Overdue           int  `json:"overdue"`
	SkippedAmbiguous  int  `json:"skipped_ambiguous"`
	Conflicts         int  `json:"conflicts"`
	Cancelled         bool `json:"cancelled"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.TotalTransactions += o.TotalTransactions
	s.TotalCharges += o.TotalCharges
	s.Matched += o.Matched
	s.Open += o.Open
	s.Overdue += o.Overdue
	s.SkippedAmbiguous += o.SkippedAmbiguous
	s.Conflicts += o.Conflicts
	s.Cancelled = s.Cancelled || o.Cancelled
}

// pass carries the state of one auto-match run.
type pass struct {
	minConfidence int
	stats         Stats
	// considered holds the latest known version of every charge ranked
	// during the pass.
	considered map[string]model.Charge
}

// AutoMatch walks the unmatched and partially matched credits in date order
// and commits each one's top candidate when it clears the threshold and is
// not ambiguous. The amount is the smaller of the charge's remaining balance
// and the transaction's unallocated amount.
//
// Open counts transactions left without a confident candidate; Overdue
// counts charges seen during the pass that are still overdue at its end.
// Cancelling ctx stops the pass between transactions: committed matches
// stay and the stats so far are returned with Cancelled set. Matches lost to
// concurrent writers are counted as conflicts; storage failures abort.
func (s *Service) AutoMatch(ctx context.Context, req AutoMatchRequest) (Stats, error) {
	minConf := s.thresholds.AutoConfirm
	if req.MinConfidence != nil {
		minConf = *req.MinConfidence
	}
	if minConf < 0 || minConf > 100 {
		return Stats{}, fmt.Errorf("%w: min_confidence %d outside 0..100", ErrInvalidArgument, minConf)
	}

	p := &pass{minConfidence: minConf, considered: make(map[string]model.Charge)}
	log := s.log.With().Str("bank_account_id", req.BankAccountID).Int("min_confidence", minConf).Logger()

	filter := store.TransactionFilter{
		BankAccountID: req.BankAccountID,
		States:        []model.AllocationState{model.StateUnmatched, model.StatePartiallyMatched},
		CreditsOnly:   true,
		Limit:         s.chunkSize,
	}

walk:
	for {
		if ctx.Err() != nil {
			p.stats.Cancelled = true
			break
		}
		page, _, err := s.store.ListTransactions(ctx, filter)
		if err != nil {
			if ctx.Err() != nil {
				p.stats.Cancelled = true
				break
			}
			return p.stats, fmt.Errorf("listing unmatched transactions: %w", err)
		}

		for _, tx := range page {
			if ctx.Err() != nil {
				p.stats.Cancelled = true
				break walk
			}
			p.stats.TotalTransactions++
			if err := s.autoMatchOne(ctx, tx, p); err != nil {
				if ctx.Err() != nil {
					p.stats.Cancelled = true
					break walk
				}
				return p.finish(s), err
			}
		}

		if len(page) < s.chunkSize {
			break
		}
		next := store.CursorOf(page[len(page)-1])
		filter.After = &next
	}

	stats := p.finish(s)
	log.Info().
		Int("transactions", stats.TotalTransactions).
		Int("charges", stats.TotalCharges).
		Int("matched", stats.Matched).
		Int("open", stats.Open).
		Int("overdue", stats.Overdue).
		Int("ambiguous", stats.SkippedAmbiguous).
		Int("conflicts", stats.Conflicts).
		Bool("cancelled", stats.Cancelled).
		Msg("auto-match finished")
	return stats, nil
}

func (p *pass) finish(s *Service) Stats {
	now := s.now()
	p.stats.TotalCharges = len(p.considered)
	p.stats.Overdue = 0
	for _, c := range p.considered {
		if c.Overdue(now) {
			p.stats.Overdue++
		}
	}
	return p.stats
}

func (s *Service) autoMatchOne(ctx context.Context, tx model.Transaction, p *pass) error {
	charges, err := s.openCharges(ctx, tx)
	if err != nil {
		return err
	}
	for _, c := range charges {
		p.considered[c.ID] = c
	}

	cands := s.engine.Rank(tx, charges)
	if len(cands) == 0 || cands[0].Confidence < p.minConfidence {
		p.stats.Open++
		return nil
	}
	if matching.Ambiguous(cands, s.thresholds.AmbiguityEpsilon) {
		p.stats.SkippedAmbiguous++
		s.log.Debug().
			Str("transaction_id", tx.ID).
			Str("first", cands[0].Charge.ID).
			Str("second", cands[1].Charge.ID).
			Int("confidence", cands[0].Confidence).
			Int("runner_up", cands[1].Confidence).
			Msg("ambiguous candidates skipped")
		return nil
	}

	top := cands[0]
	confidence := top.Confidence
	_, updated, err := s.commit(ctx, commitRequest{
		txnID:      tx.ID,
		chargeID:   top.Charge.ID,
		amount:     model.MinAmount(top.Charge.Remaining, tx.Unallocated()),
		method:     model.MethodAuto,
		confidence: &confidence,
	})
	switch {
	case err == nil:
		p.stats.Matched++
		p.considered[updated.ID] = *updated
		return nil
	case conflict(err):
		p.stats.Conflicts++
		s.log.Warn().Err(err).Str("transaction_id", tx.ID).Str("charge_id", top.Charge.ID).Msg("auto-match lost to a concurrent change")
		return nil
	default:
		return fmt.Errorf("auto-matching transaction %s: %w", tx.ID, err)
	}
}

// conflict reports errors caused by balances moving between ranking and
// committing. The pass skips such transactions.
func conflict(err error) bool {
	if _, ok := AsValidation(err); ok {
		return true
	}
	return errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ledger.ErrFrozen) ||
		errors.Is(err, ledger.ErrNotFound) ||
		errors.Is(err, store.ErrNotFound)
}
