package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cleared-dev/recon/internal/model"
)

// Memory is an in-process ledger seeded from a charges CSV or by tests.
type Memory struct {
	mu      sync.RWMutex
	charges map[string]model.Charge
}

// NewMemory returns a ledger holding charges.
func NewMemory(charges ...model.Charge) *Memory {
	m := &Memory{charges: make(map[string]model.Charge)}
	m.Seed(charges...)
	return m
}

// Seed inserts or replaces charges.
func (m *Memory) Seed(charges ...model.Charge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range charges {
		m.charges[c.ID] = c
	}
}

// Freeze marks a charge frozen or unfrozen.
func (m *Memory) Freeze(id string, frozen bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charges[id]
	if !ok {
		return fmt.Errorf("freezing charge %q: %w", id, ErrNotFound)
	}
	c.Frozen = frozen
	m.charges[id] = c
	return nil
}

// All returns every charge, settled ones included, ordered like OpenCharges.
func (m *Memory) All() []model.Charge {
	m.mu.RLock()
	out := make([]model.Charge, 0, len(m.charges))
	for _, c := range m.charges {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sortCharges(out)
	return out
}

func (m *Memory) OpenCharges(_ context.Context, q Query) ([]model.Charge, error) {
	m.mu.RLock()
	var out []model.Charge
	for _, c := range m.charges {
		if q.Matches(c) {
			out = append(out, c)
		}
	}
	m.mu.RUnlock()
	sortCharges(out)
	return out, nil
}

func (m *Memory) Charge(_ context.Context, id string) (*model.Charge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.charges[id]
	if !ok {
		return nil, fmt.Errorf("charge %q: %w", id, ErrNotFound)
	}
	return &c, nil
}

func (m *Memory) Apply(_ context.Context, id string, amount model.Amount) (*model.Charge, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("applying to charge %q: amount must be positive: %s", id, amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charges[id]
	if !ok {
		return nil, fmt.Errorf("applying to charge %q: %w", id, ErrNotFound)
	}
	if c.Frozen {
		return nil, fmt.Errorf("applying to charge %q: %w", id, ErrFrozen)
	}
	if c.Remaining < amount {
		return nil, fmt.Errorf("applying %s to charge %q with %s remaining: %w", amount, id, c.Remaining, ErrInsufficientRemaining)
	}
	c.Remaining -= amount
	m.charges[id] = c
	return &c, nil
}

func (m *Memory) Reverse(_ context.Context, id string, amount model.Amount) (*model.Charge, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reversing on charge %q: amount must be positive: %s", id, amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charges[id]
	if !ok {
		return nil, fmt.Errorf("reversing on charge %q: %w", id, ErrNotFound)
	}
	if c.Frozen {
		return nil, fmt.Errorf("reversing on charge %q: %w", id, ErrFrozen)
	}
	if c.Remaining+amount > c.Original {
		return nil, fmt.Errorf("reversing %s on charge %q: %w", amount, id, ErrOverRestore)
	}
	c.Remaining += amount
	m.charges[id] = c
	return &c, nil
}

func sortCharges(cs []model.Charge) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].DueDate.Equal(cs[j].DueDate) {
			return cs[i].DueDate.Before(cs[j].DueDate)
		}
		return cs[i].ID < cs[j].ID
	})
}

var _ Ledger = (*Memory)(nil)
