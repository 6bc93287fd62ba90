// Package events notifies collaborators about reconciliation activity.
//
// Observers are passed explicitly to the services that emit events; there
// is no package-level registry.
package events

import (
	"context"
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	MatchCreated            Type = "match.created"
	MatchDeleted            Type = "match.deleted"
	ImportCompleted         Type = "import.completed"
	ReconciliationCompleted Type = "reconciliation.completed"
	BankLinkStateChanged    Type = "banklink.state_changed"
)

// Event is one notification. Subject is the id of the record it is about.
type Event struct {
	Type    Type           `json:"type"`
	At      time.Time      `json:"at"`
	Subject string         `json:"subject"`
	Data    map[string]any `json:"data,omitempty"`
}

// Observer receives events. Notify must not block for long and never fails
// the operation that emitted the event.
type Observer interface {
	Notify(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) Notify(ctx context.Context, e Event) { f(ctx, e) }

// Multi fans an event out to every observer in order.
type Multi []Observer

func (m Multi) Notify(ctx context.Context, e Event) {
	for _, o := range m {
		if o != nil {
			o.Notify(ctx, e)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
