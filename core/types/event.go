package types

import (
	"sort"
	"time"
)

// Event represents a typed event emitted during ledger state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// AttributeKeys returns the attribute names in sorted order so callers can
// render events deterministically.
func (e *Event) AttributeKeys() []string {
	if e == nil {
		return nil
	}
	keys := make([]string, 0, len(e.Attributes))
	for key := range e.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// EventRecord is a committed event as stored by the journal.
type EventRecord struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
	CreatedAt  time.Time         `json:"createdAt"`
}
