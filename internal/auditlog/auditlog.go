// Package auditlog appends reconciliation events to a CSV file.
package auditlog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/recon/internal/events"
)

// Entry is one row of the audit log.
type Entry struct {
	Timestamp time.Time
	Event     events.Type
	Subject   string
	Details   string
}

// Header is the CSV header of the audit log.
const Header = "timestamp,event,subject,details"

// FileName is the default audit log name inside the data directory.
const FileName = "audit-log.csv"

const (
	numFields  = 4
	colTime    = 0
	colEvent   = 1
	colSubject = 2
	colDetails = 3
)

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTime] = e.Timestamp.UTC().Format(time.RFC3339)
	row[colEvent] = string(e.Event)
	row[colSubject] = e.Subject
	row[colDetails] = e.Details
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}
	ts, err := time.Parse(time.RFC3339, record[colTime])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTime], err)
	}
	return Entry{
		Timestamp: ts,
		Event:     events.Type(record[colEvent]),
		Subject:   record[colSubject],
		Details:   record[colDetails],
	}, nil
}

// EntryOf flattens an event. Details lists the event data as key=value
// pairs sorted by key.
func EntryOf(e events.Event) Entry {
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, e.Data[k]))
	}
	return Entry{Timestamp: e.At, Event: e.Type, Subject: e.Subject, Details: strings.Join(pairs, " ")}
}

// Append writes entries to path, creating the file and header if needed.
func Append(path string, entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating audit log dir: %w", err)
	}

	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read returns every entry in path, or nil when the file does not exist.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()
	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading audit log CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Observer appends every event it receives to the log file.
type Observer struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger
}

// NewObserver returns an observer writing to path.
func NewObserver(path string, log zerolog.Logger) *Observer {
	return &Observer{path: path, log: log}
}

// Path returns the log file path.
func (o *Observer) Path() string { return o.path }

func (o *Observer) Notify(_ context.Context, e events.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := Append(o.path, []Entry{EntryOf(e)}); err != nil {
		o.log.Error().Err(err).Str("event", string(e.Type)).Str("subject", e.Subject).Msg("audit log write failed")
	}
}

var _ events.Observer = (*Observer)(nil)
