package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type principalSessions struct {
	mu    sync.Mutex
	items map[string]Session
}

// MemoryStore is the single-process Store used when Redis is absent.
type MemoryStore struct {
	config Config

	mu         sync.Mutex
	principals map[string]*principalSessions

	refresh *gocache.Cache
	takeMu  sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		config:     cfg.withDefaults(),
		principals: make(map[string]*principalSessions),
		refresh:    gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func (m *MemoryStore) owner(principalID string) *principalSessions {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.principals[principalID]
	if !ok {
		p = &principalSessions{items: make(map[string]Session)}
		m.principals[principalID] = p
	}
	return p
}

func sortedNewestFirst(items map[string]Session) []Session {
	out := make([]Session, 0, len(items))
	for _, s := range items {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LoginAt.Equal(out[j].LoginAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].LoginAt.After(out[j].LoginAt)
	})
	return out
}

func (m *MemoryStore) Add(_ context.Context, sess Session) ([]string, error) {
	if sess.ID == "" || sess.PrincipalID == "" {
		return nil, errors.New("session: id and principal required")
	}
	p := m.owner(sess.PrincipalID)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.items[sess.ID] = sess

	var evicted []string
	if over := len(p.items) - m.config.MaxSessions; over > 0 {
		ordered := sortedNewestFirst(p.items)
		for _, old := range ordered[len(ordered)-over:] {
			delete(p.items, old.ID)
			evicted = append(evicted, old.ID)
		}
	}
	return evicted, nil
}

func (m *MemoryStore) Get(_ context.Context, principalID, sessionID string) (*Session, error) {
	p := m.owner(principalID)
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.items[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) List(_ context.Context, principalID string) ([]Session, error) {
	p := m.owner(principalID)
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedNewestFirst(p.items), nil
}

func (m *MemoryStore) Remove(_ context.Context, principalID, sessionID string) (bool, error) {
	p := m.owner(principalID)
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.items[sessionID]
	delete(p.items, sessionID)
	return ok, nil
}

func (m *MemoryStore) Clear(_ context.Context, principalID string) (int, error) {
	p := m.owner(principalID)
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.items)
	p.items = make(map[string]Session)
	return n, nil
}

func (m *MemoryStore) SetRefresh(_ context.Context, rec RefreshRecord) error {
	ttl := time.Until(rec.ExpiresAt)
	if rec.Hash == "" || ttl <= 0 {
		return errors.New("session: refresh record requires hash and future expiry")
	}
	p := m.owner(rec.PrincipalID)
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.items[rec.SessionID]
	if !ok {
		return ErrNotFound
	}
	s.RefreshHash = rec.Hash
	s.RefreshedAt = rec.IssuedAt
	p.items[rec.SessionID] = s
	m.refresh.Set(rec.Hash, rec, ttl)
	return nil
}

func (m *MemoryStore) LookupRefresh(_ context.Context, hash string) (*RefreshRecord, error) {
	v, ok := m.refresh.Get(hash)
	if !ok {
		return nil, ErrNotFound
	}
	rec := v.(RefreshRecord)
	return &rec, nil
}

func (m *MemoryStore) TakeRefresh(_ context.Context, hash string) (*RefreshRecord, error) {
	m.takeMu.Lock()
	defer m.takeMu.Unlock()
	v, ok := m.refresh.Get(hash)
	if !ok {
		return nil, ErrNotFound
	}
	m.refresh.Delete(hash)
	rec := v.(RefreshRecord)
	return &rec, nil
}

func (m *MemoryStore) DeleteRefresh(_ context.Context, hash string) error {
	m.refresh.Delete(hash)
	return nil
}
