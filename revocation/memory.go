package revocation

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryBackend is the in-process fallback. Entries expire on their own.
type memoryBackend struct {
	tokens *gocache.Cache

	// cutoffMu serialises the read-compare-write of a cutoff entry.
	cutoffMu sync.Mutex
	cutoffs  *gocache.Cache
}

func newMemoryBackend(cleanup time.Duration) *memoryBackend {
	return &memoryBackend{
		tokens:  gocache.New(gocache.NoExpiration, cleanup),
		cutoffs: gocache.New(gocache.NoExpiration, cleanup),
	}
}

func (m *memoryBackend) revoke(token string, ttl time.Duration) {
	m.tokens.Set(token, struct{}{}, ttl)
}

func (m *memoryBackend) isRevoked(token string) bool {
	_, ok := m.tokens.Get(token)
	return ok
}

func (m *memoryBackend) forget(token string) {
	m.tokens.Delete(token)
}

// raiseCutoff stores max(existing, cutoff) and returns the effective value.
func (m *memoryBackend) raiseCutoff(principal string, cutoff int64, ttl time.Duration) int64 {
	m.cutoffMu.Lock()
	defer m.cutoffMu.Unlock()

	if v, ok := m.cutoffs.Get(principal); ok {
		if cur := v.(int64); cur >= cutoff {
			return cur
		}
	}
	m.cutoffs.Set(principal, cutoff, ttl)
	return cutoff
}

func (m *memoryBackend) cutoff(principal string) int64 {
	if v, ok := m.cutoffs.Get(principal); ok {
		return v.(int64)
	}
	return 0
}

func (m *memoryBackend) entries() int {
	return m.tokens.ItemCount() + m.cutoffs.ItemCount()
}
