package reconcile

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/recon/internal/banklink"
	"github.com/cleared-dev/recon/internal/events"
	"github.com/cleared-dev/recon/internal/importer"
)

// FileImporter imports uploaded files.
type FileImporter interface {
	Import(ctx context.Context, files []importer.File, opts importer.Options) ([]importer.FileResult, error)
}

// Syncer pulls a bank link's feed.
type Syncer interface {
	Sync(ctx context.Context, linkID string) (*banklink.SyncResult, error)
}

// Report combines what a reconciliation run imported and matched.
type Report struct {
	Trigger  string                `json:"trigger"`
	Files    []importer.FileResult `json:"files,omitempty"`
	Sync     *banklink.SyncResult  `json:"sync,omitempty"`
	Accounts []string              `json:"accounts,omitempty"`
	Match    Stats                 `json:"match"`
}

// Orchestrator runs an import or feed sync followed by auto-match over the
// accounts it touched. The steps are not one transaction: when a later step
// fails, earlier progress stays and is reported.
type Orchestrator struct {
	importer FileImporter
	links    Syncer
	service  *Service
	observer events.Observer
	log      zerolog.Logger
	now      func() time.Time
}

// NewOrchestrator wires an orchestrator. links may be nil when no bank feed
// is configured.
func NewOrchestrator(im FileImporter, links Syncer, svc *Service, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		importer: im,
		links:    links,
		service:  svc,
		observer: events.Nop{},
		log:      log.With().Str("component", "orchestrator").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithObserver reports completed runs.
func (o *Orchestrator) WithObserver(obs events.Observer) *Orchestrator {
	o.observer = obs
	return o
}

// ImportAndReconcile imports files and auto-matches every account their
// rows belong to. A nil minConfidence uses the configured auto_confirm.
func (o *Orchestrator) ImportAndReconcile(ctx context.Context, files []importer.File, opts importer.Options, minConfidence *int) (*Report, error) {
	rep := &Report{Trigger: "import"}
	results, err := o.importer.Import(ctx, files, opts)
	rep.Files = results
	for _, r := range results {
		for _, acc := range r.Accounts {
			if !slices.Contains(rep.Accounts, acc) {
				rep.Accounts = append(rep.Accounts, acc)
			}
		}
	}
	slices.Sort(rep.Accounts)
	if err != nil {
		return rep, fmt.Errorf("importing files: %w", err)
	}

	if err := o.matchAccounts(ctx, rep, minConfidence); err != nil {
		return rep, err
	}
	o.completed(ctx, rep)
	return rep, nil
}

// ReconcileAll auto-matches one account, or all when accountID is empty.
func (o *Orchestrator) ReconcileAll(ctx context.Context, accountID string, minConfidence *int) (*Report, error) {
	rep := &Report{Trigger: "reconcile"}
	if accountID != "" {
		rep.Accounts = []string{accountID}
	}
	stats, err := o.service.AutoMatch(ctx, AutoMatchRequest{BankAccountID: accountID, MinConfidence: minConfidence})
	rep.Match = stats
	if err != nil {
		return rep, err
	}
	o.completed(ctx, rep)
	return rep, nil
}

// SyncAndReconcile syncs a bank link and auto-matches its account.
func (o *Orchestrator) SyncAndReconcile(ctx context.Context, linkID string, minConfidence *int) (*Report, error) {
	if o.links == nil {
		return nil, fmt.Errorf("%w: no bank feed configured", ErrInvalidArgument)
	}
	rep := &Report{Trigger: "sync"}
	res, err := o.links.Sync(ctx, linkID)
	if err != nil {
		return rep, fmt.Errorf("syncing %s: %w", linkID, err)
	}
	rep.Sync = res
	rep.Accounts = []string{res.Link.BankAccountID}

	if err := o.matchAccounts(ctx, rep, minConfidence); err != nil {
		return rep, err
	}
	o.completed(ctx, rep)
	return rep, nil
}

func (o *Orchestrator) matchAccounts(ctx context.Context, rep *Report, minConfidence *int) error {
	for _, acc := range rep.Accounts {
		stats, err := o.service.AutoMatch(ctx, AutoMatchRequest{BankAccountID: acc, MinConfidence: minConfidence})
		rep.Match.Add(stats)
		if err != nil {
			return fmt.Errorf("auto-matching %s: %w", acc, err)
		}
		if stats.Cancelled {
			break
		}
	}
	return nil
}

func (o *Orchestrator) completed(ctx context.Context, rep *Report) {
	data := map[string]any{
		"trigger":           rep.Trigger,
		"accounts":          rep.Accounts,
		"matched":           rep.Match.Matched,
		"open":              rep.Match.Open,
		"overdue":           rep.Match.Overdue,
		"skipped_ambiguous": rep.Match.SkippedAmbiguous,
		"cancelled":         rep.Match.Cancelled,
	}
	imported := 0
	for _, f := range rep.Files {
		imported += f.Imported
	}
	if rep.Sync != nil {
		imported += rep.Sync.Imported
	}
	data["imported"] = imported

	o.log.Info().
		Str("trigger", rep.Trigger).
		Strs("accounts", rep.Accounts).
		Int("imported", imported).
		Int("matched", rep.Match.Matched).
		Bool("cancelled", rep.Match.Cancelled).
		Msg("reconciliation completed")
	o.observer.Notify(ctx, events.Event{
		Type:    events.ReconciliationCompleted,
		At:      o.now(),
		Subject: rep.Trigger,
		Data:    data,
	})
}
