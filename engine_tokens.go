package authkernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/fraud"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
	"github.com/Mosleh92/exchange-platform-v3-sub012/jwt"
	"github.com/Mosleh92/exchange-platform-v3-sub012/session"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
)

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrDeviceMismatch):
		return ErrDeviceMismatch
	default:
		return ErrInvalidToken
	}
}

func tokenResult(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrExpiredToken):
		return ResultExpired
	case errors.Is(err, ErrRevoked):
		return ResultRevoked
	case errors.Is(err, ErrStoreUnavailable):
		return ResultUnavailable
	default:
		return ResultInvalidToken
	}
}

// checkRevoked fails closed: a revocation store that cannot answer rejects
// the token.
func (e *Engine) checkRevoked(ctx context.Context, token, principalID string, iat time.Time) error {
	revoked, err := e.revocation.IsRevoked(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if revoked {
		return ErrRevoked
	}
	revoked, err = e.revocation.IsPrincipalRevoked(ctx, principalID, iat)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if revoked {
		return ErrRevoked
	}
	return nil
}

// VerifyAccess verifies signature, expiry, both revocation lanes and the
// owning session of an access token.
func (e *Engine) VerifyAccess(ctx context.Context, token string) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	id, err := e.verifyAccess(ctx, token)
	e.observer.TokenVerify(tokenResult(err))
	return id, err
}

func (e *Engine) verifyAccess(ctx context.Context, token string) (*Identity, error) {
	claims, err := e.access.ParseAccess(token)
	if err != nil {
		return nil, mapTokenError(err)
	}
	role, err := store.ParseRole(claims.Role)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if err := e.checkRevoked(ctx, token, claims.Subject, claims.IssuedAt.Time); err != nil {
		return nil, err
	}
	// The cutoff has second precision; a cleared or evicted session also
	// ends tokens minted in the same second.
	if _, err := e.sessions.Get(ctx, claims.Subject, claims.SID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrRevoked
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &Identity{
		PrincipalID: claims.Subject,
		TenantID:    claims.TID,
		Role:        role,
		SessionID:   claims.SID,
		TwoFactor:   claims.TFA,
		TokenID:     claims.ID,
		Token:       token,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Refresh exchanges a refresh token for a new pair on the same session.
// With RotateRefresh the presented token is revoked for its remaining
// lifetime, so replaying it fails with ErrRevoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken string, device ClientInfo) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx = WithClientInfo(ctx, device)

	claims, err := e.refresh.ParseRefresh(refreshToken)
	if err != nil {
		return nil, mapTokenError(err)
	}
	if err := e.checkRevoked(ctx, refreshToken, claims.Subject, claims.IssuedAt.Time); err != nil {
		return nil, err
	}

	presented := jwt.DeviceBinding{DeviceID: device.DeviceID, UserAgent: device.UserAgent, IP: device.IP}
	if err := jwt.CheckDevice(claims, presented, e.config.Token.StrictDeviceBinding); err != nil {
		e.emitAudit(ctx, audit.Entry{
			ActorID:  claims.Subject,
			TenantID: claims.TID,
			Type:     audit.TypeSecurityViolation,
			Level:    audit.LevelSecurity,
			Details:  map[string]any{"reason": "device_mismatch", "session_id": claims.SID},
		})
		return nil, ErrDeviceMismatch
	}
	var extra []fraud.Indicator
	if jwt.CheckDevice(claims, presented, true) != nil {
		extra = append(extra, fraud.Indicator{
			Type:       "device_drift",
			Level:      fraud.LevelMedium,
			Confidence: 1,
			Detail:     "user agent or address changed since login",
		})
	}

	hash := internal.HashToken(refreshToken)
	lookup := e.sessions.LookupRefresh
	if e.config.Token.RotateRefresh {
		lookup = e.sessions.TakeRefresh
	}
	rec, err := lookup(ctx, hash)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrRevoked
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rec.PrincipalID != claims.Subject || rec.SessionID != claims.SID {
		return nil, ErrInvalidToken
	}
	if _, err := e.sessions.Get(ctx, claims.Subject, claims.SID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrRevoked
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	p, err := e.directory.GetPrincipal(ctx, claims.TID, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if p.Status != store.StatusActive || p.LockedAt(e.now()) {
		return nil, ErrAccountInactive
	}
	tenant, err := e.activeTenant(ctx, p.TenantID)
	if err != nil {
		return nil, err
	}
	if err := e.screen(ctx, p, tenant, "refresh", claims.DID, extra); err != nil {
		return nil, err
	}

	pair, err := e.signPair(ctx, jwt.Subject{
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		Role:        string(p.Role),
		TwoFactor:   claims.TFA,
		SessionID:   claims.SID,
	}, jwt.DeviceBinding{DeviceID: claims.DID, UserAgent: device.UserAgent, IP: device.IP})
	if err != nil {
		return nil, err
	}

	if e.config.Token.RotateRefresh {
		// The record is already consumed; the blacklist entry makes a
		// replay fail with ErrRevoked before the record lookup.
		if err := e.revocation.Revoke(ctx, refreshToken, jwt.Remaining(claims.ExpiresAt, e.now())); err != nil {
			e.log.Warn("rotated refresh not revoked", logger.PrincipalID(p.ID), logger.Err(err))
		}
		e.observer.Revocation(RevokeToken)
	}
	return pair, nil
}

// Logout revokes the presented access token and ends its session, or the
// session named in opts. opts.All behaves like LogoutAll.
func (e *Engine) Logout(ctx context.Context, accessToken string, opts LogoutOptions) error {
	if e == nil {
		return ErrEngineNotReady
	}
	id, err := e.VerifyAccess(ctx, accessToken)
	if err != nil {
		return err
	}
	if opts.All {
		return e.logoutAll(ctx, id)
	}

	if err := e.revokeUntil(ctx, id.Token, id.ExpiresAt); err != nil {
		return err
	}
	if opts.RefreshToken != "" {
		if err := e.revokeRefresh(ctx, id, opts.RefreshToken); err != nil {
			return err
		}
	}

	sid := opts.SessionID
	if sid == "" {
		sid = id.SessionID
	}
	if sid != "" {
		removed, err := e.removeSession(ctx, id.PrincipalID, sid)
		if err != nil {
			return err
		}
		if !removed && opts.SessionID != "" {
			return ErrSessionNotFound
		}
	}

	e.emitAudit(ctx, audit.Entry{
		ActorID:  id.PrincipalID,
		TenantID: id.TenantID,
		Type:     audit.TypeLogout,
		Details:  map[string]any{"session_id": sid, "all": false},
	})
	return nil
}

// LogoutAll revokes the presented token, clears every session and moves
// the principal cutoff to now. Older tokens die through the cutoff, tokens
// of the cleared sessions through the session check, and the presented
// one through the denylist. A login after the call is unaffected.
func (e *Engine) LogoutAll(ctx context.Context, accessToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	id, err := e.VerifyAccess(ctx, accessToken)
	if err != nil {
		return err
	}
	return e.logoutAll(ctx, id)
}

func (e *Engine) logoutAll(ctx context.Context, id *Identity) error {
	if err := e.revokeUntil(ctx, id.Token, id.ExpiresAt); err != nil {
		return err
	}
	n, err := e.endAllSessions(ctx, id.PrincipalID)
	if err != nil {
		return err
	}
	e.emitAudit(ctx, audit.Entry{
		ActorID:  id.PrincipalID,
		TenantID: id.TenantID,
		Type:     audit.TypeLogout,
		Details:  map[string]any{"all": true, "sessions_ended": n},
	})
	return nil
}

// Sessions lists the principal's active sessions, newest first.
func (e *Engine) Sessions(ctx context.Context, principalID string) ([]Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	list, err := e.sessions.List(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return list, nil
}

func (e *Engine) revokeUntil(ctx context.Context, token string, expiresAt time.Time) error {
	if err := e.revocation.Revoke(ctx, token, expiresAt.Sub(e.now())); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.observer.Revocation(RevokeToken)
	return nil
}

func (e *Engine) revokeRefresh(ctx context.Context, id *Identity, token string) error {
	claims, err := e.refresh.ParseRefresh(token)
	if errors.Is(err, jwt.ErrExpired) {
		return nil
	}
	if err != nil {
		return ErrInvalidToken
	}
	if claims.Subject != id.PrincipalID || claims.TID != id.TenantID {
		return ErrForbidden
	}
	if err := e.revokeUntil(ctx, token, claims.ExpiresAt.Time); err != nil {
		return err
	}
	if err := e.sessions.DeleteRefresh(ctx, internal.HashToken(token)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (e *Engine) removeSession(ctx context.Context, principalID, sessionID string) (bool, error) {
	s, err := e.sessions.Get(ctx, principalID, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if s.RefreshHash != "" {
		if err := e.sessions.DeleteRefresh(ctx, s.RefreshHash); err != nil {
			return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	removed, err := e.sessions.Remove(ctx, principalID, sessionID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return removed, nil
}

// endAllSessions raises the principal cutoff first, then drops the
// session list and its refresh records.
func (e *Engine) endAllSessions(ctx context.Context, principalID string) (int, error) {
	if err := e.revocation.RevokePrincipalBefore(ctx, principalID, e.now()); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.observer.Revocation(RevokePrincipal)

	list, err := e.sessions.List(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, s := range list {
		if s.RefreshHash == "" {
			continue
		}
		if err := e.sessions.DeleteRefresh(ctx, s.RefreshHash); err != nil {
			e.log.Warn("refresh record not deleted", logger.PrincipalID(principalID), logger.Err(err))
		}
	}
	n, err := e.sessions.Clear(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}
