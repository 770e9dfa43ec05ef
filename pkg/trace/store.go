package trace

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Store persists trace events across runs.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// Filter limits event queries.
type Filter struct {
	RunID       string
	Kind        Kind
	Tool        string
	BlockedOnly bool
	Limit       int
}

func (f Filter) match(e Event) bool {
	switch {
	case f.RunID != "" && e.RunID != f.RunID:
		return false
	case f.Kind != "" && e.Kind != f.Kind:
		return false
	case f.Tool != "" && e.Tool != f.Tool:
		return false
	case f.BlockedOnly && !e.Blocked:
		return false
	}
	return true
}

// MemoryStore keeps events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore returns an in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an event.
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event.clone())
	return nil
}

// List returns filtered events in recording order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if !filter.match(ev) {
			continue
		}
		out = append(out, ev.clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// RecordAll writes events to store in order, stopping at the first error.
func RecordAll(ctx context.Context, store Store, events []Event) error {
	for _, ev := range events {
		if err := store.Record(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeJSON(raw string, dst any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
