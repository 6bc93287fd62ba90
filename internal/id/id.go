package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind is the record type encoded in an identifier prefix.
type Kind string

const (
	Transaction Kind = "txn"
	Charge      Kind = "chg"
	Match       Kind = "mat"
	Batch       Kind = "imp"
	Link        Kind = "lnk"
)

var kinds = map[Kind]bool{Transaction: true, Charge: true, Match: true, Batch: true, Link: true}

// New returns a fresh identifier like "txn_1b4e28ba-2fa1-4d3b-a3f5-ef19b5a7633b".
func New(kind Kind) string {
	return string(kind) + "_" + uuid.NewString()
}

// Parse splits an identifier into its kind and UUID.
func Parse(s string) (Kind, uuid.UUID, error) {
	prefix, rest, ok := strings.Cut(s, "_")
	if !ok {
		return "", uuid.Nil, fmt.Errorf("invalid id %q: missing kind prefix", s)
	}
	kind := Kind(prefix)
	if !kinds[kind] {
		return "", uuid.Nil, fmt.Errorf("invalid id %q: unknown kind %q", s, prefix)
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return kind, u, nil
}

// Is reports whether s is a well-formed identifier of the given kind.
func Is(s string, kind Kind) bool {
	k, _, err := Parse(s)
	return err == nil && k == kind
}
