// Package audit records the events an operator must be able to see:
// skipped safety actions, lost tracker sessions and destructive removals.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an event.
type Kind string

const (
	KindSessionInvalid Kind = "session_invalid"
	KindMissingClient  Kind = "missing_client"
	KindExpirySkipped  Kind = "expiry_skipped_policy_disabled"
	KindMissingPenalty Kind = "hr_item_missing"
	KindRemoved        Kind = "item_removed"
	KindPaused         Kind = "item_paused"
	KindLogin          Kind = "login"
)

// Warning reports whether the kind signals account risk.
func (k Kind) Warning() bool {
	switch k {
	case KindSessionInvalid, KindMissingClient, KindExpirySkipped, KindMissingPenalty:
		return true
	}
	return false
}

// Event is one audit entry.
type Event struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Kind    Kind      `json:"kind"`
	ItemID  int64     `json:"itemId,omitempty"`
	Message string    `json:"message"`
	// Status is the item status the event left behind, if any.
	Status string `json:"status,omitempty"`
}

// Sink accepts events. Emit must not block on slow consumers.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Notifier forwards events outside the process.
type Notifier interface {
	Notify(e Event)
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(context.Context, Event) {}

// DefaultCapacity bounds the ring when none is given.
const DefaultCapacity = 500

// Log keeps the most recent events in a ring and fans them out to notifiers.
type Log struct {
	log       *slog.Logger
	notifiers []Notifier
	now       func() time.Time

	mu   sync.Mutex
	ring []Event
	next int
	full bool
}

func NewLog(capacity int, log *slog.Logger, notifiers ...Notifier) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &Log{log: log, notifiers: notifiers, now: time.Now, ring: make([]Event, capacity)}
}

func (l *Log) Emit(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	l.mu.Lock()
	l.ring[l.next] = e
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	level := slog.LevelInfo
	if e.Kind.Warning() {
		level = slog.LevelWarn
	}
	l.log.Log(ctx, level, "audit", "kind", e.Kind, "item_id", e.ItemID, "status", e.Status, "msg", e.Message)
	for _, n := range l.notifiers {
		n.Notify(e)
	}
}

// List returns up to limit events, newest first. A non-positive limit
// returns everything retained.
func (l *Log) List(limit int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.next
	if l.full {
		n = len(l.ring)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (l.next - 1 - i + len(l.ring)) % len(l.ring)
		out = append(out, l.ring[idx])
	}
	return out
}
