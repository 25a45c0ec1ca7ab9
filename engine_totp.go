package authkernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/twofactor"
)

func mapTwoFactorError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, twofactor.ErrInvalidCode):
		return ErrTwoFactorFailed
	case errors.Is(err, twofactor.ErrPasswordMismatch):
		return ErrInvalidCredentials
	case errors.Is(err, twofactor.ErrAlreadyEnabled),
		errors.Is(err, twofactor.ErrNotEnabled),
		errors.Is(err, twofactor.ErrNoPendingEnrollment):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, twofactor.ErrVersionConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// TwoFactorState reports the caller's enrollment state.
func (e *Engine) TwoFactorState(ctx context.Context, id Identity) (twofactor.State, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	state, err := e.twoFactor.State(ctx, id.PrincipalID)
	if err != nil {
		return "", mapTwoFactorError(err)
	}
	return state, nil
}

// BeginTwoFactor starts a pending TOTP enrollment. The secret and recovery
// codes in the result are shown once.
func (e *Engine) BeginTwoFactor(ctx context.Context, id Identity) (*twofactor.Setup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	p, err := e.loadPrincipal(ctx, id.TenantID, id.PrincipalID)
	if err != nil {
		return nil, err
	}
	setup, err := e.twoFactor.BeginEnrollment(ctx, p.ID, p.Identifier)
	if err != nil {
		return nil, mapTwoFactorError(err)
	}
	return setup, nil
}

// EnableTwoFactor confirms a pending enrollment with a TOTP code.
func (e *Engine) EnableTwoFactor(ctx context.Context, id Identity, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.twoFactor.ConfirmEnrollment(ctx, id.PrincipalID, code); err != nil {
		return mapTwoFactorError(err)
	}
	e.emitAudit(ctx, audit.Entry{
		ActorID:  id.PrincipalID,
		TenantID: id.TenantID,
		Type:     audit.Type2FAEnabled,
		Level:    audit.LevelSecurity,
	})
	return nil
}

// DisableTwoFactor removes the enrollment after re-verifying the password.
func (e *Engine) DisableTwoFactor(ctx context.Context, id Identity, pw string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if pw == "" {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}
	if err := e.twoFactor.Disable(withTenantID(ctx, id.TenantID), id.PrincipalID, pw); err != nil {
		if errors.Is(err, twofactor.ErrPasswordMismatch) {
			e.failedLogin(ctx, id.TenantID, id.PrincipalID, "2fa_disable_bad_password", nil)
		}
		return mapTwoFactorError(err)
	}
	e.emitAudit(ctx, audit.Entry{
		ActorID:  id.PrincipalID,
		TenantID: id.TenantID,
		Type:     audit.Type2FADisabled,
		Level:    audit.LevelSecurity,
	})
	return nil
}

// RegenerateRecoveryCodes swaps the recovery set for a fresh one. code must
// be a current TOTP or an unused recovery code.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, id Identity, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	codes, err := e.twoFactor.RegenerateRecoveryCodes(ctx, id.PrincipalID, code)
	if err != nil {
		return nil, mapTwoFactorError(err)
	}
	e.emitAudit(ctx, audit.Entry{
		ActorID:  id.PrincipalID,
		TenantID: id.TenantID,
		Type:     audit.Type2FARecoveryRegenerated,
		Level:    audit.LevelSecurity,
		Details:  map[string]any{"recovery_codes": len(codes)},
	})
	return codes, nil
}

// IssueSMSCode creates a one-time SMS code. Delivery belongs to the caller.
func (e *Engine) IssueSMSCode(ctx context.Context, id Identity) (twofactor.DeliveryToken, error) {
	if e == nil {
		return twofactor.DeliveryToken{}, ErrEngineNotReady
	}
	tok, err := e.twoFactor.IssueSMSCode(ctx, id.PrincipalID)
	if err != nil {
		return twofactor.DeliveryToken{}, mapTwoFactorError(err)
	}
	return tok, nil
}

func (e *Engine) VerifySMSCode(ctx context.Context, id Identity, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return mapTwoFactorError(e.twoFactor.VerifySMSCode(ctx, id.PrincipalID, code))
}
