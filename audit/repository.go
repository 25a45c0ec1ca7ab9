package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("audit event not found")

// Filter selects events. Empty fields match everything.
type Filter struct {
	TenantID string
	ActorID  string
	Type     string
	Level    Level
	Since    time.Time
	Until    time.Time
	Limit    int
}

func (f Filter) match(e Event) bool {
	switch {
	case f.TenantID != "" && e.TenantID != f.TenantID:
		return false
	case f.ActorID != "" && e.ActorID != f.ActorID:
		return false
	case f.Type != "" && e.Type != f.Type:
		return false
	case f.Level != "" && e.Level != f.Level:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && !e.Timestamp.Before(f.Until):
		return false
	}
	return true
}

// Repository persists audit events.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// MarkProcessed sets the processed bit. Marking an already processed
	// event is a no-op and returns nil.
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	// List returns matching events newest first.
	List(ctx context.Context, f Filter) ([]Event, error)
	// PurgeExpired deletes events whose expiry is at or before now and
	// returns how many were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []Event
	index  map[string]int
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{index: make(map[string]int)}
}

func (r *MemoryRepository) Append(_ context.Context, e Event) error {
	if e.ID == "" {
		return errors.New("audit: event id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.index[e.ID]; dup {
		return nil
	}
	r.index[e.ID] = len(r.events)
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepository) MarkProcessed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return ErrNotFound
	}
	if r.events[i].Processed {
		return nil
	}
	at = at.UTC()
	r.events[i].Processed = true
	r.events[i].ProcessedAt = &at
	return nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Event, error) {
	r.mu.RLock()
	out := make([]Event, 0)
	for _, e := range r.events {
		if f.match(e) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	var removed int64
	for _, e := range r.events {
		if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	r.index = make(map[string]int, len(kept))
	for i, e := range kept {
		r.index[e.ID] = i
	}
	return removed, nil
}
