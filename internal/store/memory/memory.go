// Package memory is an in-process Store. Nothing survives the process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/store"
)

// Store keeps everything in maps behind one mutex.
type Store struct {
	mu        sync.RWMutex
	batches   map[string]model.ImportBatch
	txns      map[string]model.Transaction
	byHash    map[hashKey]string
	matches   map[string]model.Match
	allocated map[string]model.Amount
}

type hashKey struct {
	account string
	hash    string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		batches:   make(map[string]model.ImportBatch),
		txns:      make(map[string]model.Transaction),
		byHash:    make(map[hashKey]string),
		matches:   make(map[string]model.Match),
		allocated: make(map[string]model.Amount),
	}
}

func (s *Store) CreateBatch(_ context.Context, b *model.ImportBatch) error {
	if b.ID == "" {
		return fmt.Errorf("creating batch: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; ok {
		return fmt.Errorf("creating batch %q: already exists", b.ID)
	}
	s.batches[b.ID] = copyBatch(*b)
	return nil
}

func (s *Store) UpdateBatch(_ context.Context, b *model.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; !ok {
		return fmt.Errorf("updating batch %q: %w", b.ID, store.ErrNotFound)
	}
	s.batches[b.ID] = copyBatch(*b)
	return nil
}

func (s *Store) GetBatch(_ context.Context, id string) (*model.ImportBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %q: %w", id, store.ErrNotFound)
	}
	out := copyBatch(b)
	return &out, nil
}

// ListBatches returns batches newest first.
func (s *Store) ListBatches(_ context.Context, page store.Page) ([]model.ImportBatch, int, error) {
	s.mu.RLock()
	all := make([]model.ImportBatch, 0, len(s.batches))
	for _, b := range s.batches {
		all = append(all, copyBatch(b))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	return paginate(all, page.Offset, page.Limit), len(all), nil
}

func (s *Store) DeleteBatch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[id]; !ok {
		return fmt.Errorf("deleting batch %q: %w", id, store.ErrNotFound)
	}
	var owned []string
	for tid, tx := range s.txns {
		if tx.ImportBatchID != id {
			continue
		}
		if s.allocated[tid] > 0 {
			return fmt.Errorf("deleting batch %q: %w", id, store.ErrBatchHasMatches)
		}
		owned = append(owned, tid)
	}
	for _, tid := range owned {
		tx := s.txns[tid]
		delete(s.byHash, hashKey{tx.BankAccountID, tx.ContentHash})
		delete(s.txns, tid)
		delete(s.allocated, tid)
	}
	delete(s.batches, id)
	return nil
}

func (s *Store) InsertTransactions(_ context.Context, txns []model.Transaction) ([]bool, error) {
	for _, tx := range txns {
		if err := store.ValidateTransaction(tx); err != nil {
			return nil, fmt.Errorf("inserting transactions: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := make([]bool, len(txns))
	for i, tx := range txns {
		key := hashKey{tx.BankAccountID, tx.ContentHash}
		if _, dup := s.byHash[key]; dup {
			continue
		}
		if _, dup := s.txns[tx.ID]; dup {
			return inserted, fmt.Errorf("inserting transaction %q: id already exists", tx.ID)
		}
		tx.Allocated = 0
		s.txns[tx.ID] = tx
		s.byHash[key] = tx.ID
		inserted[i] = true
	}
	return inserted, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txns[id]
	if !ok {
		return nil, fmt.Errorf("transaction %q: %w", id, store.ErrNotFound)
	}
	tx.Allocated = s.allocated[id]
	return &tx, nil
}

func (s *Store) ListTransactions(_ context.Context, f store.TransactionFilter) ([]model.Transaction, int, error) {
	s.mu.RLock()
	var rows []model.Transaction
	for id, tx := range s.txns {
		tx.Allocated = s.allocated[id]
		if f.Matches(tx) {
			rows = append(rows, tx)
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].ID < rows[j].ID
	})
	total := len(rows)

	if f.After != nil {
		start := sort.Search(len(rows), func(i int) bool { return f.After.Follows(rows[i]) })
		rows = rows[start:]
	}
	return paginate(rows, f.Offset, f.Limit), total, nil
}

func (s *Store) CreateMatch(_ context.Context, m *model.Match) error {
	if err := store.ValidateMatch(*m); err != nil {
		return fmt.Errorf("creating match: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txns[m.TransactionID]
	if !ok {
		return fmt.Errorf("creating match: transaction %q: %w", m.TransactionID, store.ErrNotFound)
	}
	if _, dup := s.matches[m.ID]; dup {
		return fmt.Errorf("creating match %q: already exists", m.ID)
	}
	if s.allocated[tx.ID]+m.Amount > tx.Amount.Abs() {
		return fmt.Errorf("creating match on %q: %w", tx.ID, store.ErrOverAllocated)
	}
	s.matches[m.ID] = copyMatch(*m)
	s.allocated[tx.ID] += m.Amount
	return nil
}

func (s *Store) GetMatch(_ context.Context, id string) (*model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, fmt.Errorf("match %q: %w", id, store.ErrNotFound)
	}
	out := copyMatch(m)
	return &out, nil
}

func (s *Store) DeleteMatch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return fmt.Errorf("deleting match %q: %w", id, store.ErrNotFound)
	}
	delete(s.matches, id)
	s.allocated[m.TransactionID] -= m.Amount
	if s.allocated[m.TransactionID] <= 0 {
		delete(s.allocated, m.TransactionID)
	}
	return nil
}

// ListMatches returns matches oldest first.
func (s *Store) ListMatches(_ context.Context, f store.MatchFilter) ([]model.Match, error) {
	s.mu.RLock()
	var out []model.Match
	for _, m := range s.matches {
		if f.TransactionID != "" && m.TransactionID != f.TransactionID {
			continue
		}
		if f.ChargeID != "" && m.ChargeID != f.ChargeID {
			continue
		}
		out = append(out, copyMatch(m))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Close() error { return nil }

func copyBatch(b model.ImportBatch) model.ImportBatch {
	b.Columns = append([]string(nil), b.Columns...)
	return b
}

func copyMatch(m model.Match) model.Match {
	if m.Confidence != nil {
		c := *m.Confidence
		m.Confidence = &c
	}
	return m
}

func paginate[T any](rows []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

var _ store.Store = (*Store)(nil)
