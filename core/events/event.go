package events

import (
	"sync"

	"vaultledger/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves into the
// generic attribute form consumed by the journal and the API.
type Payload interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. journal, API).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffered holds events raised inside an open scope until the outermost scope
// finishes. Committed events are forwarded to the wrapped emitter in order;
// discarded scopes drop everything raised since Begin. Outside a scope events
// pass straight through.
type Buffered struct {
	mu    sync.Mutex
	next  Emitter
	queue []Event
	marks []int
}

// NewBuffered wraps next. A nil next discards committed events.
func NewBuffered(next Emitter) *Buffered {
	if next == nil {
		next = NoopEmitter{}
	}
	return &Buffered{next: next}
}

// SetNext replaces the downstream emitter.
func (b *Buffered) SetNext(next Emitter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if next == nil {
		next = NoopEmitter{}
	}
	b.next = next
}

// Emit implements the Emitter interface.
func (b *Buffered) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.mu.Lock()
	if len(b.marks) == 0 {
		next := b.next
		b.mu.Unlock()
		next.Emit(evt)
		return
	}
	b.queue = append(b.queue, evt)
	b.mu.Unlock()
}

// Begin opens a nested scope.
func (b *Buffered) Begin() {
	b.mu.Lock()
	b.marks = append(b.marks, len(b.queue))
	b.mu.Unlock()
}

// Commit closes the innermost scope. When it was the outermost scope the
// queued events are flushed.
func (b *Buffered) Commit() {
	b.mu.Lock()
	if len(b.marks) == 0 {
		b.mu.Unlock()
		return
	}
	b.marks = b.marks[:len(b.marks)-1]
	if len(b.marks) > 0 {
		b.mu.Unlock()
		return
	}
	pending := b.queue
	b.queue = nil
	next := b.next
	b.mu.Unlock()
	for _, evt := range pending {
		next.Emit(evt)
	}
}

// Discard closes the innermost scope and drops the events raised in it.
func (b *Buffered) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.marks) == 0 {
		return
	}
	mark := b.marks[len(b.marks)-1]
	b.marks = b.marks[:len(b.marks)-1]
	b.queue = b.queue[:mark]
}
