package fraud

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound        = errors.New("fraud event not found")
	ErrAlreadyReviewed = errors.New("fraud event already reviewed")
)

// Override is a human decision recorded beside the automatic one.
type Override struct {
	Reviewer string    `json:"reviewer"`
	Decision Decision  `json:"decision"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// Event is one scored risk-relevant request.
type Event struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	TenantID    string         `json:"tenant_id"`
	PrincipalID string         `json:"principal_id,omitempty"`
	Action      string         `json:"action"`
	IP          string         `json:"ip,omitempty"`
	DeviceID    string         `json:"device_id,omitempty"`
	NewDevice   bool           `json:"new_device"`
	VPN         bool           `json:"vpn"`
	Proxy       bool           `json:"proxy"`
	Tor         bool           `json:"tor"`
	Location    *Location      `json:"location,omitempty"`
	Velocity    VelocityResult `json:"velocity"`
	Indicators  []Indicator    `json:"indicators,omitempty"`
	Rules       []RuleHit      `json:"rules,omitempty"`
	MLScore     float64        `json:"ml_score"`
	RuleScore   float64        `json:"rule_score"`
	RiskScore   float64        `json:"risk_score"`
	// Decision and Reason are the automatic outcome and never change.
	Decision Decision  `json:"decision"`
	Reason   string    `json:"reason"`
	Pending  bool      `json:"pending_review"`
	Override *Override `json:"override,omitempty"`
}

// Effective is the override decision when present, else the automatic one.
func (e Event) Effective() Decision {
	if e.Override != nil {
		return e.Override.Decision
	}
	return e.Decision
}

// Store persists fraud events.
type Store interface {
	Save(ctx context.Context, e Event) error
	Get(ctx context.Context, id string) (*Event, error)
	// SetOverride records o and clears the pending flag. It returns
	// ErrAlreadyReviewed when an override exists.
	SetOverride(ctx context.Context, id string, o Override) (*Event, error)
	// Pending lists unreviewed events of tenant, highest risk first, newest
	// first among equals. An empty tenant lists every tenant.
	Pending(ctx context.Context, tenantID string) ([]Event, error)
	// LastLocation returns the most recent geolocated event of principal.
	LastLocation(ctx context.Context, principalID string) (*Location, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*Event
	last   map[string]Location
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*Event), last: make(map[string]Location)}
}

func (m *MemoryStore) Save(_ context.Context, e Event) error {
	if e.ID == "" {
		return errors.New("fraud: event id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := e
	m.events[e.ID] = &cp
	if e.Location != nil && e.PrincipalID != "" {
		if prev, ok := m.last[e.PrincipalID]; !ok || !e.Location.At.Before(prev.At) {
			m.last[e.PrincipalID] = *e.Location
		}
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) SetOverride(_ context.Context, id string, o Override) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Override != nil {
		return nil, ErrAlreadyReviewed
	}
	e.Override = &o
	e.Pending = false
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) Pending(_ context.Context, tenantID string) ([]Event, error) {
	m.mu.RLock()
	out := make([]Event, 0)
	for _, e := range m.events {
		if e.Pending && (tenantID == "" || e.TenantID == tenantID) {
			out = append(out, *e)
		}
	}
	m.mu.RUnlock()

	sortPending(out)
	return out, nil
}

func (m *MemoryStore) LastLocation(_ context.Context, principalID string) (*Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loc, ok := m.last[principalID]
	if !ok {
		return nil, ErrNotFound
	}
	return &loc, nil
}

func sortPending(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].RiskScore != events[j].RiskScore {
			return events[i].RiskScore > events[j].RiskScore
		}
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.After(events[j].Timestamp)
		}
		return events[i].ID > events[j].ID
	})
}
