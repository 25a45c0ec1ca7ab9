// Package store defines the principal and tenant records the kernel reads and
// the directory contract the backends in store/memory and store/postgres
// implement.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// Role is a principal's authority level.
type Role string

const (
	RoleSuperAdmin    Role = "super_admin"
	RoleTenantAdmin   Role = "tenant_admin"
	RoleBranchManager Role = "branch_manager"
	RoleStaff         Role = "staff"
	RoleCustomer      Role = "customer"
)

var roleRank = map[Role]int{
	RoleCustomer:      1,
	RoleStaff:         2,
	RoleBranchManager: 3,
	RoleTenantAdmin:   4,
	RoleSuperAdmin:    5,
}

// Rank orders roles; unknown roles rank 0.
func (r Role) Rank() int { return roleRank[r] }

// AtLeast reports whether r ranks at or above floor.
func (r Role) AtLeast(floor Role) bool { return r.Rank() > 0 && r.Rank() >= floor.Rank() }

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if r.Rank() == 0 {
		return "", fmt.Errorf("store: unknown role %q", s)
	}
	return r, nil
}

// Status is an account or tenant lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusLocked   Status = "locked"
	StatusDisabled Status = "disabled"
)

// Principal is an authenticating identity scoped to one tenant.
type Principal struct {
	ID           string
	TenantID     string
	Identifier   string
	BranchID     string
	Role         Role
	Status       Status
	TenantAccess []string
	PasswordHash string

	FailedAttempts int
	FirstFailureAt time.Time
	LockedUntil    time.Time
	LastLoginAt    time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LockedAt reports whether the principal cannot log in at now.
func (p *Principal) LockedAt(now time.Time) bool {
	return p.Status == StatusLocked || now.Before(p.LockedUntil)
}

// CanReachTenant reports whether the principal may act inside tenantID.
func (p *Principal) CanReachTenant(tenantID string) bool {
	if p.Role == RoleSuperAdmin || tenantID == p.TenantID {
		return true
	}
	return slices.Contains(p.TenantAccess, tenantID)
}

// Tenant is an isolated customer organisation.
type Tenant struct {
	ID     string
	Name   string
	Status Status
	// AmountCeiling is the per-transaction amount above which the fraud
	// rules fire. Zero disables the rule.
	AmountCeiling float64
	CreatedAt     time.Time
}

// Active reports whether the tenant accepts requests.
func (t *Tenant) Active() bool { return t.Status == StatusActive }

// LockoutPolicy drives RecordLoginFailure.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

// FailureState is the credential state after a recorded failure.
type FailureState struct {
	Attempts    int
	LockedUntil time.Time
	// Locked is set when this failure reached the threshold.
	Locked bool
}

// Query selects principals. TenantID is mandatory; an empty TenantID is
// rejected by every backend.
type Query struct {
	TenantID string
	Role     Role
	BranchID string
	Limit    int
}

var ErrUnscopedQuery = errors.New("store: query without tenant predicate")

// Directory is the principal and tenant record store.
type Directory interface {
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
	CreateTenant(ctx context.Context, t Tenant) error

	GetPrincipal(ctx context.Context, tenantID, principalID string) (*Principal, error)
	GetPrincipalByIdentifier(ctx context.Context, tenantID, identifier string) (*Principal, error)
	CreatePrincipal(ctx context.Context, p Principal) error
	ListPrincipals(ctx context.Context, q Query) ([]Principal, error)
	UpdatePasswordHash(ctx context.Context, principalID, hash string) error
	// UpdatePrincipalStatus sets the lifecycle state. Moving to active also
	// clears the failed-attempt counter and any lock deadline.
	UpdatePrincipalStatus(ctx context.Context, principalID string, status Status) error

	// RecordLoginFailure atomically updates the failed-attempt counter of
	// one principal. A lock whose deadline has passed is cleared and
	// counting restarts at one. The lock deadline only moves forward.
	RecordLoginFailure(ctx context.Context, principalID string, now time.Time, policy LockoutPolicy) (FailureState, error)
	// RecordLoginSuccess resets the counter and lock and stamps the login.
	RecordLoginSuccess(ctx context.Context, principalID string, now time.Time) error
}

// ApplyFailure is the in-process form of RecordLoginFailure. It mutates p.
func ApplyFailure(p *Principal, now time.Time, policy LockoutPolicy) FailureState {
	if !p.LockedUntil.IsZero() && !now.Before(p.LockedUntil) {
		p.LockedUntil = time.Time{}
		p.FailedAttempts = 0
		p.FirstFailureAt = time.Time{}
	}
	if p.FirstFailureAt.IsZero() || now.Sub(p.FirstFailureAt) > policy.Window {
		p.FailedAttempts = 0
		p.FirstFailureAt = now
	}
	p.FailedAttempts++

	st := FailureState{Attempts: p.FailedAttempts}
	if policy.Threshold > 0 && p.FailedAttempts >= policy.Threshold {
		deadline := now.Add(policy.Duration)
		if deadline.After(p.LockedUntil) {
			p.LockedUntil = deadline
		}
		st.Locked = true
	}
	st.LockedUntil = p.LockedUntil
	p.UpdatedAt = now
	return st
}
