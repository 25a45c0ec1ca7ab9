// Package memory is an in-process store.Directory for tests and
// single-node development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
)

// Directory keeps tenants and principals in maps guarded by one mutex.
type Directory struct {
	mu         sync.RWMutex
	tenants    map[string]store.Tenant
	principals map[string]store.Principal
	// byIdentifier maps tenant + "\x00" + lowercased identifier to id.
	byIdentifier map[string]string
}

var _ store.Directory = (*Directory)(nil)

func New() *Directory {
	return &Directory{
		tenants:      make(map[string]store.Tenant),
		principals:   make(map[string]store.Principal),
		byIdentifier: make(map[string]string),
	}
}

func identityKey(tenantID, identifier string) string {
	return tenantID + "\x00" + strings.ToLower(strings.TrimSpace(identifier))
}

func clonePrincipal(p store.Principal) *store.Principal {
	p.TenantAccess = append([]string(nil), p.TenantAccess...)
	return &p
}

func (d *Directory) GetTenant(_ context.Context, tenantID string) (*store.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.tenants[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (d *Directory) CreateTenant(_ context.Context, t store.Tenant) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, ok := d.tenants[t.ID]; ok {
		return store.ErrConflict
	}
	if t.Status == "" {
		t.Status = store.StatusActive
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	d.tenants[t.ID] = t
	return nil
}

func (d *Directory) GetPrincipal(_ context.Context, tenantID, principalID string) (*store.Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.principals[principalID]
	if !ok || p.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return clonePrincipal(p), nil
}

func (d *Directory) GetPrincipalByIdentifier(_ context.Context, tenantID, identifier string) (*store.Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byIdentifier[identityKey(tenantID, identifier)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePrincipal(d.principals[id]), nil
}

func (d *Directory) CreatePrincipal(_ context.Context, p store.Principal) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	key := identityKey(p.TenantID, p.Identifier)
	if _, dup := d.byIdentifier[key]; dup {
		return store.ErrConflict
	}
	if _, dup := d.principals[p.ID]; dup {
		return store.ErrConflict
	}
	now := time.Now().UTC()
	if p.Status == "" {
		p.Status = store.StatusActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	d.principals[p.ID] = *clonePrincipal(p)
	d.byIdentifier[key] = p.ID
	return nil
}

func (d *Directory) ListPrincipals(_ context.Context, q store.Query) ([]store.Principal, error) {
	if q.TenantID == "" {
		return nil, store.ErrUnscopedQuery
	}
	d.mu.RLock()
	out := make([]store.Principal, 0)
	for _, p := range d.principals {
		if p.TenantID != q.TenantID {
			continue
		}
		if q.Role != "" && p.Role != q.Role {
			continue
		}
		if q.BranchID != "" && p.BranchID != q.BranchID {
			continue
		}
		out = append(out, *clonePrincipal(p))
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (d *Directory) UpdatePasswordHash(_ context.Context, principalID, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.principals[principalID]
	if !ok {
		return store.ErrNotFound
	}
	p.PasswordHash = hash
	p.UpdatedAt = time.Now().UTC()
	d.principals[principalID] = p
	return nil
}

func (d *Directory) UpdatePrincipalStatus(_ context.Context, principalID string, status store.Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.principals[principalID]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	if status == store.StatusActive {
		p.FailedAttempts = 0
		p.FirstFailureAt = time.Time{}
		p.LockedUntil = time.Time{}
	}
	p.UpdatedAt = time.Now().UTC()
	d.principals[principalID] = p
	return nil
}

func (d *Directory) RecordLoginFailure(_ context.Context, principalID string, now time.Time, policy store.LockoutPolicy) (store.FailureState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.principals[principalID]
	if !ok {
		return store.FailureState{}, store.ErrNotFound
	}
	st := store.ApplyFailure(&p, now, policy)
	d.principals[principalID] = p
	return st, nil
}

func (d *Directory) RecordLoginSuccess(_ context.Context, principalID string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.principals[principalID]
	if !ok {
		return store.ErrNotFound
	}
	p.FailedAttempts = 0
	p.FirstFailureAt = time.Time{}
	p.LockedUntil = time.Time{}
	p.LastLoginAt = now
	p.UpdatedAt = now
	d.principals[principalID] = p
	return nil
}
