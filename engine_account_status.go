package authkernel

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
)

// SetPrincipalStatus changes a principal's lifecycle state on behalf of
// actor. Outside super admins the actor must belong to tenantID and outrank
// the target. Locking or disabling ends every session of the target.
func (e *Engine) SetPrincipalStatus(ctx context.Context, actor Identity, tenantID, principalID string, status store.Status) error {
	if e == nil {
		return ErrEngineNotReady
	}
	switch status {
	case store.StatusActive, store.StatusLocked, store.StatusDisabled:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	if principalID == actor.PrincipalID {
		return fmt.Errorf("%w: cannot change own status", ErrForbidden)
	}
	superAdmin := actor.Role == store.RoleSuperAdmin
	if !superAdmin && tenantID != actor.TenantID {
		return ErrForbidden
	}

	target, err := e.directory.GetPrincipal(ctx, tenantID, principalID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !superAdmin && actor.Role.Rank() <= target.Role.Rank() {
		return ErrForbidden
	}

	if err := e.directory.UpdatePrincipalStatus(ctx, target.ID, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrForbidden
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ended := 0
	if status != store.StatusActive {
		if ended, err = e.endAllSessions(ctx, target.ID); err != nil {
			return err
		}
	}
	e.log.Info("principal status changed",
		logger.TenantID(target.TenantID),
		logger.PrincipalID(target.ID),
		zap.String("status", string(status)),
	)
	e.emitAudit(ctx, audit.Entry{
		ActorID:  actor.PrincipalID,
		TenantID: target.TenantID,
		BranchID: target.BranchID,
		Type:     audit.TypeAccountStatus,
		Level:    audit.LevelSecurity,
		Details: map[string]any{
			"principal_id":   target.ID,
			"from":           string(target.Status),
			"to":             string(status),
			"sessions_ended": ended,
		},
	})
	return nil
}
