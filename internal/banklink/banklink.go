// Package banklink connects bank accounts to a transaction feed.
//
// A link moves pending → linked → synced, or to failed. The provider's
// callback moves it out of pending; a link still pending when the timeout
// elapses fails, and Cancel fails it explicitly. Callers wait for state
// changes with Wait instead of polling.
package banklink

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/recon/internal/events"
	"github.com/cleared-dev/recon/internal/id"
	"github.com/cleared-dev/recon/internal/importer"
	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/store"
)

var (
	ErrNotFound       = errors.New("bank link not found")
	ErrInvalidState   = errors.New("bank link is not in a state that allows this")
	ErrUnknownAccount = errors.New("unknown bank account")
)

// State is a link's lifecycle state.
type State string

const (
	StatePending State = "pending"
	StateLinked  State = "linked"
	StateSynced  State = "synced"
	StateFailed  State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateFailed }

// Link is one connection between a managed bank account and the feed.
type Link struct {
	ID            string    `json:"id"`
	BankAccountID string    `json:"bank_account_id"`
	State         State     `json:"state"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	SyncedAt      time.Time `json:"synced_at,omitzero"`
	Imported      int       `json:"imported"`
	Skipped       int       `json:"skipped"`

	token string
}

// Callback is what the provider reports once the user finished linking.
type Callback struct {
	Token string `json:"token"`
	Error string `json:"error,omitempty"`
}

// FeedTransaction is a booking as the feed delivers it.
type FeedTransaction struct {
	Date               time.Time
	Amount             model.Amount
	CounterpartName    string
	CounterpartAccount string
	Purpose            string
	Reference          string
}

func (f FeedTransaction) String() string {
	date := ""
	if !f.Date.IsZero() {
		date = f.Date.Format("2006-01-02")
	}
	return strings.Join([]string{date, f.Amount.String(), f.CounterpartName, f.CounterpartAccount, f.Purpose, f.Reference}, ";")
}

// checkFeedRow returns why a booking cannot be stored, or "".
func checkFeedRow(f FeedTransaction) string {
	switch {
	case f.Date.IsZero():
		return "date is required"
	case f.Amount == 0:
		return "zero amount"
	}
	return ""
}

// Feed fetches bookings for a linked account.
type Feed interface {
	Transactions(ctx context.Context, accountID, token string) ([]FeedTransaction, error)
}

// AccountResolver finds managed bank accounts.
type AccountResolver interface {
	Account(id string) (model.BankAccount, bool)
}

// SyncResult reports one sync. Errors name feed rows by their 1-based
// position in the feed.
type SyncResult struct {
	Link     Link                `json:"link"`
	Imported int                 `json:"imported"`
	Skipped  int                 `json:"skipped"`
	Errored  int                 `json:"errored"`
	Errors   []importer.RowError `json:"errors,omitempty"`
}

// defaultChunkSize is how many feed rows are stored per insert.
const defaultChunkSize = 500

type entry struct {
	link    Link
	changed chan struct{}
	timer   *time.Timer
}

// Manager owns the links of one process.
type Manager struct {
	mu       sync.Mutex
	links    map[string]*entry
	store    store.Store
	feed     Feed
	accounts AccountResolver
	timeout   time.Duration
	chunkSize int
	observer  events.Observer
	log       zerolog.Logger
	now       func() time.Time
}

// NewManager returns a manager whose pending links fail after timeout.
func NewManager(s store.Store, feed Feed, accounts AccountResolver, timeout time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		links:    make(map[string]*entry),
		store:    s,
		feed:     feed,
		accounts: accounts,
		timeout:   timeout,
		chunkSize: defaultChunkSize,
		observer:  events.Nop{},
		log:       log.With().Str("component", "banklink").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithObserver reports state changes.
func (m *Manager) WithObserver(o events.Observer) *Manager {
	m.observer = o
	return m
}

// WithChunkSize sets how many feed rows a sync stores per insert.
func (m *Manager) WithChunkSize(n int) *Manager {
	if n > 0 {
		m.chunkSize = n
	}
	return m
}

// WithClock replaces the clock used for timestamps and ExpireStale.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Start opens a pending link for a bank account.
func (m *Manager) Start(ctx context.Context, accountID string) (Link, error) {
	if _, ok := m.accounts.Account(accountID); !ok {
		return Link{}, fmt.Errorf("starting bank link for %q: %w", accountID, ErrUnknownAccount)
	}
	now := m.now()
	e := &entry{
		link: Link{
			ID:            id.New(id.Link),
			BankAccountID: accountID,
			State:         StatePending,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		changed: make(chan struct{}),
	}
	linkID := e.link.ID

	m.mu.Lock()
	m.links[linkID] = e
	if m.timeout > 0 {
		e.timer = time.AfterFunc(m.timeout, func() {
			m.fail(context.Background(), linkID, StatePending, "timed out waiting for the provider")
		})
	}
	link := e.link
	m.mu.Unlock()

	m.log.Info().Str("link_id", linkID).Str("bank_account_id", accountID).Msg("bank link started")
	m.notify(ctx, link, "")
	return link, nil
}

// Get returns a link.
func (m *Manager) Get(linkID string) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.links[linkID]
	if !ok {
		return Link{}, fmt.Errorf("bank link %s: %w", linkID, ErrNotFound)
	}
	return e.link, nil
}

// HandleCallback applies the provider's answer to a pending link.
func (m *Manager) HandleCallback(ctx context.Context, linkID string, cb Callback) (Link, error) {
	if cb.Error != "" {
		return m.fail(ctx, linkID, StatePending, "provider: "+cb.Error)
	}
	if cb.Token == "" {
		return Link{}, fmt.Errorf("bank link %s callback: token missing: %w", linkID, ErrInvalidState)
	}
	return m.transition(ctx, linkID, []State{StatePending}, func(l *Link) {
		l.State = StateLinked
		l.token = cb.Token
	})
}

// Cancel fails a link that has not failed yet.
func (m *Manager) Cancel(ctx context.Context, linkID string) (Link, error) {
	return m.fail(ctx, linkID, "", "cancelled")
}

// Sync fetches the feed of a linked account and stores new bookings. Rows
// already present, from an earlier sync or a file import, are skipped.
// Rows without a date or amount are reported in Errors and do not stop
// the sync; only storage failures do.
func (m *Manager) Sync(ctx context.Context, linkID string) (*SyncResult, error) {
	link, err := m.Get(linkID)
	if err != nil {
		return nil, err
	}
	if link.State != StateLinked && link.State != StateSynced {
		return nil, fmt.Errorf("syncing bank link %s in state %s: %w", linkID, link.State, ErrInvalidState)
	}
	account, ok := m.accounts.Account(link.BankAccountID)
	if !ok {
		return nil, fmt.Errorf("syncing bank link %s: %w", linkID, ErrUnknownAccount)
	}

	feed, err := m.feed.Transactions(ctx, account.ID, link.token)
	if err != nil {
		if ctx.Err() == nil {
			m.fail(ctx, linkID, "", "feed: "+err.Error())
		}
		return nil, fmt.Errorf("fetching feed for %s: %w", account.ID, err)
	}

	now := m.now()
	res := &SyncResult{}
	for chunk := range slices.Chunk(feed, m.chunkSize) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("syncing bank link %s: %w", linkID, err)
		}
		offset := res.Imported + res.Skipped + res.Errored
		txns := make([]model.Transaction, 0, len(chunk))
		for i, f := range chunk {
			if reason := checkFeedRow(f); reason != "" {
				res.Errored++
				res.Errors = append(res.Errors, importer.RowError{Line: offset + i + 1, Reason: reason, Raw: f.String()})
				continue
			}
			txns = append(txns, model.Transaction{
				ID:                 id.New(id.Transaction),
				BankAccountID:      account.ID,
				Date:               f.Date.UTC(),
				Amount:             f.Amount,
				Currency:           account.Currency,
				CounterpartName:    f.CounterpartName,
				CounterpartAccount: f.CounterpartAccount,
				Purpose:            f.Purpose,
				Reference:          f.Reference,
				ContentHash:        importer.ContentHash(account.ID, f.Date, f.Amount, f.Purpose),
				CreatedAt:          now,
			})
		}
		if len(txns) == 0 {
			continue
		}
		inserted, err := m.store.InsertTransactions(ctx, txns)
		if err != nil {
			return nil, fmt.Errorf("storing feed transactions: %w", err)
		}
		for _, ok := range inserted {
			if ok {
				res.Imported++
			} else {
				res.Skipped++
			}
		}
	}

	res.Link, err = m.transition(ctx, linkID, []State{StateLinked, StateSynced}, func(l *Link) {
		l.State = StateSynced
		l.SyncedAt = now
		l.Imported += res.Imported
		l.Skipped += res.Skipped
	})
	if err != nil {
		return nil, err
	}
	m.log.Info().Str("link_id", linkID).Int("imported", res.Imported).Int("skipped", res.Skipped).Int("errored", res.Errored).Msg("bank link synced")
	return res, nil
}

// Wait blocks until the link reaches one of states, or any state other
// than the current one when states is empty.
func (m *Manager) Wait(ctx context.Context, linkID string, states ...State) (Link, error) {
	var start State
	for first := true; ; first = false {
		m.mu.Lock()
		e, ok := m.links[linkID]
		if !ok {
			m.mu.Unlock()
			return Link{}, fmt.Errorf("bank link %s: %w", linkID, ErrNotFound)
		}
		link, changed := e.link, e.changed
		m.mu.Unlock()

		if first {
			start = link.State
		}
		switch {
		case len(states) > 0 && slices.Contains(states, link.State):
			return link, nil
		case len(states) == 0 && !first && link.State != start:
			return link, nil
		case link.State.Terminal():
			return link, fmt.Errorf("bank link %s failed: %s", linkID, link.Error)
		}

		select {
		case <-ctx.Done():
			return link, ctx.Err()
		case <-changed:
		}
	}
}

// ExpireStale fails links that stayed pending longer than the timeout and
// returns how many it failed.
func (m *Manager) ExpireStale(ctx context.Context) int {
	cutoff := m.now().Add(-m.timeout)
	var stale []string
	m.mu.Lock()
	for linkID, e := range m.links {
		if e.link.State == StatePending && !e.link.CreatedAt.After(cutoff) {
			stale = append(stale, linkID)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, linkID := range stale {
		if _, err := m.fail(ctx, linkID, StatePending, "timed out waiting for the provider"); err == nil {
			n++
		}
	}
	return n
}

// fail moves a link to failed. from restricts the source state; empty
// allows any non-terminal state.
func (m *Manager) fail(ctx context.Context, linkID string, from State, reason string) (Link, error) {
	allowed := []State{StatePending, StateLinked, StateSynced}
	if from != "" {
		allowed = []State{from}
	}
	link, err := m.transition(ctx, linkID, allowed, func(l *Link) {
		l.State = StateFailed
		l.Error = reason
		l.token = ""
	})
	if err == nil {
		m.log.Warn().Str("link_id", linkID).Str("reason", reason).Msg("bank link failed")
	}
	return link, err
}

func (m *Manager) transition(ctx context.Context, linkID string, from []State, apply func(*Link)) (Link, error) {
	m.mu.Lock()
	e, ok := m.links[linkID]
	if !ok {
		m.mu.Unlock()
		return Link{}, fmt.Errorf("bank link %s: %w", linkID, ErrNotFound)
	}
	if !slices.Contains(from, e.link.State) {
		state := e.link.State
		m.mu.Unlock()
		return Link{}, fmt.Errorf("bank link %s is %s: %w", linkID, state, ErrInvalidState)
	}
	prev := e.link.State
	apply(&e.link)
	e.link.UpdatedAt = m.now()
	if e.timer != nil && e.link.State != StatePending {
		e.timer.Stop()
		e.timer = nil
	}
	close(e.changed)
	e.changed = make(chan struct{})
	link := e.link
	m.mu.Unlock()

	m.notify(ctx, link, prev)
	return link, nil
}

func (m *Manager) notify(ctx context.Context, l Link, prev State) {
	data := map[string]any{
		"bank_account_id": l.BankAccountID,
		"state":           string(l.State),
	}
	if prev != "" {
		data["previous"] = string(prev)
	}
	if l.Error != "" {
		data["error"] = l.Error
	}
	m.observer.Notify(ctx, events.Event{
		Type:    events.BankLinkStateChanged,
		At:      l.UpdatedAt,
		Subject: l.ID,
		Data:    data,
	})
}

// StaticFeed serves fixed bookings per bank account. It backs tests and
// the demo server.
type StaticFeed struct {
	mu   sync.Mutex
	rows map[string][]FeedTransaction
	err  error
}

// NewStaticFeed returns an empty feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{rows: make(map[string][]FeedTransaction)}
}

// Add appends bookings for an account.
func (f *StaticFeed) Add(accountID string, rows ...FeedTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[accountID] = append(f.rows[accountID], rows...)
}

// Fail makes every following fetch return err; nil clears it.
func (f *StaticFeed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *StaticFeed) Transactions(ctx context.Context, accountID, _ string) ([]FeedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.rows[accountID]), nil
}
