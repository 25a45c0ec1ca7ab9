package authkernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/password"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
	"github.com/Mosleh92/exchange-platform-v3-sub012/twofactor"
)

// ChangePassword replaces the caller's password after re-verifying the
// current one, then ends every session and revokes all earlier tokens. A
// wrong current password counts as a failed login.
func (e *Engine) ChangePassword(ctx context.Context, id Identity, current, next string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if current == "" || next == "" {
		return fmt.Errorf("%w: current and new password are required", ErrValidation)
	}

	p, err := e.loadPrincipal(ctx, id.TenantID, id.PrincipalID)
	if err != nil {
		return err
	}
	now := e.now()
	if p.LockedAt(now) {
		e.failedLogin(ctx, p.TenantID, p.ID, "password_change_locked", nil)
		return ErrAccountLocked
	}
	ok, verr := e.hasher.Verify(current, p.PasswordHash)
	if verr != nil || !ok {
		// Counts toward the login lockout.
		return e.recordFailure(ctx, p, now)
	}

	if err := password.CheckStrength(next); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if same, _ := e.hasher.Verify(next, p.PasswordHash); same {
		return ErrPasswordReuse
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := e.directory.UpdatePasswordHash(ctx, p.ID, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	n, err := e.endAllSessions(ctx, p.ID)
	if err != nil {
		return err
	}
	e.emitAudit(ctx, audit.Entry{
		ActorID:  p.ID,
		TenantID: p.TenantID,
		BranchID: p.BranchID,
		Type:     audit.TypePasswordChange,
		Level:    audit.LevelSecurity,
		Details:  map[string]any{"sessions_ended": n},
	})
	return nil
}

// VerifyPassword checks pw against the stored hash without touching the
// lockout counter.
func (e *Engine) VerifyPassword(ctx context.Context, tenantID, principalID, pw string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	p, err := e.loadPrincipal(ctx, tenantID, principalID)
	if err != nil {
		return false, err
	}
	ok, err := e.hasher.Verify(pw, p.PasswordHash)
	if err != nil {
		return false, nil
	}
	return ok, nil
}

// verifyPasswordInTenant backs the two-factor Disable re-verification. The
// tenant comes from ctx so a principal id alone cannot reach across tenants.
func (e *Engine) verifyPasswordInTenant(ctx context.Context, principalID, pw string) error {
	tenantID, ok := tenantIDFromContext(ctx)
	if !ok {
		return errors.New("tenant missing from context")
	}
	valid, err := e.VerifyPassword(ctx, tenantID, principalID, pw)
	if err != nil {
		return err
	}
	if !valid {
		return twofactor.ErrPasswordMismatch
	}
	return nil
}

func (e *Engine) loadPrincipal(ctx context.Context, tenantID, principalID string) (*store.Principal, error) {
	p, err := e.directory.GetPrincipal(ctx, tenantID, principalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return p, nil
}
