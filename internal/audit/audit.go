// Package audit keeps a small client-local log of confirmed stage
// changes. It is a UI convenience; the server keeps the real audit.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLimit is how many entries the trail retains.
const DefaultLimit = 5

// Entry records one confirmed stage change.
type Entry struct {
	ID         string    `json:"id"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	Timestamp  time.Time `json:"timestamp"`
	Summary    string    `json:"summary"`
}

// Trail is a bounded, newest-first in-memory log.
type Trail struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
	Now     func() time.Time
}

// NewTrail returns a trail keeping the most recent limit entries.
// Non-positive limits fall back to DefaultLimit.
func NewTrail(limit int) *Trail {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Trail{limit: limit, Now: time.Now}
}

func (t *Trail) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Append records a confirmed change, evicting the oldest entry when the
// trail is full.
func (t *Trail) Append(entityKind, entityID, action, actor, summary string) Entry {
	e := Entry{
		ID:         uuid.New().String(),
		EntityKind: entityKind,
		EntityID:   entityID,
		Action:     action,
		Actor:      actor,
		Timestamp:  t.now().UTC(),
		Summary:    summary,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append([]Entry{e}, t.entries...)
	if len(t.entries) > t.limit {
		t.entries = t.entries[:t.limit]
	}
	return e
}

// Entries returns a copy of the retained entries, newest first.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len reports how many entries are retained.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
