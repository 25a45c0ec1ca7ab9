package authkernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/fraud"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
	"github.com/Mosleh92/exchange-platform-v3-sub012/jwt"
	"github.com/Mosleh92/exchange-platform-v3-sub012/password"
	"github.com/Mosleh92/exchange-platform-v3-sub012/revocation"
	"github.com/Mosleh92/exchange-platform-v3-sub012/session"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
	"github.com/Mosleh92/exchange-platform-v3-sub012/twofactor"
)

// Engine is the credential and session authority. It is safe for
// concurrent use once built.
type Engine struct {
	config     Config
	directory  store.Directory
	access     *jwt.Manager
	refresh    *jwt.Manager
	hasher     *password.Hasher
	revocation *revocation.Store
	redis      redis.UniversalClient
	sessions   session.Store
	challenges *challengeStore
	twoFactor  *twofactor.Service
	fraud      *fraud.Pipeline
	audit      *audit.Recorder
	auditRepo  audit.Repository
	observer   Observer
	log        *zap.Logger
	now        func() time.Time
}

// Close drains the audit lane and stops the revocation probe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.revocation != nil {
		e.revocation.Close()
	}
}

// AuditDropped reports audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) Directory() store.Directory { return e.directory }
func (e *Engine) Audit() *audit.Recorder { return e.audit }
func (e *Engine) AuditRepository() audit.Repository { return e.auditRepo }
func (e *Engine) Fraud() *fraud.Pipeline { return e.fraud }
func (e *Engine) RevocationStats() revocation.Stats { return e.revocation.Stats() }

func (e *Engine) lockoutPolicy() store.LockoutPolicy {
	return store.LockoutPolicy{
		Threshold: e.config.Lockout.Threshold,
		Window:    e.config.Lockout.Window,
		Duration:  e.config.Lockout.Duration,
	}
}

// Login checks a password credential. Principals with two-factor enabled
// get a challenge to complete with CompleteTwoFactorLogin; everyone else
// gets a token pair and a new session.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.TenantID == "" || req.Identifier == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: tenant, identifier and password are required", ErrValidation)
	}
	now := e.now()

	p, err := e.directory.GetPrincipalByIdentifier(ctx, req.TenantID, req.Identifier)
	if errors.Is(err, store.ErrNotFound) {
		e.hasher.VerifyDummy(req.Password)
		e.failedLogin(ctx, req.TenantID, "", "unknown_identifier", nil)
		e.observer.LoginResult(ResultInvalid)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if p.LockedAt(now) {
		e.failedLogin(ctx, p.TenantID, p.ID, "locked", nil)
		e.observer.LoginResult(ResultLocked)
		return nil, ErrAccountLocked
	}
	if p.Status != store.StatusActive {
		e.failedLogin(ctx, p.TenantID, p.ID, "inactive", nil)
		e.observer.LoginResult(ResultInactive)
		return nil, ErrAccountInactive
	}
	tenant, err := e.activeTenant(ctx, p.TenantID)
	if err != nil {
		e.observer.LoginResult(ResultInactive)
		return nil, err
	}

	ok, verr := e.hasher.Verify(req.Password, p.PasswordHash)
	if verr != nil || !ok {
		return nil, e.recordFailure(ctx, p, now)
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = ClientInfoFromContext(ctx).DeviceID
	}
	if err := e.screen(ctx, p, tenant, "login", deviceID, nil); err != nil {
		e.observer.LoginResult(ResultBlocked)
		return nil, err
	}

	if err := e.directory.RecordLoginSuccess(ctx, p.ID, now); err != nil {
		e.log.Warn("record login success failed", logger.PrincipalID(p.ID), logger.Err(err))
	}
	if e.hasher.NeedsUpgrade(p.PasswordHash) {
		e.upgradeHash(ctx, p.ID, req.Password)
	}

	state, err := e.twoFactor.State(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if state == twofactor.StateEnabled {
		return e.startChallenge(ctx, p, deviceID, now)
	}

	pair, err := e.issueSession(ctx, p, deviceID, false)
	if err != nil {
		return nil, err
	}
	e.emitAudit(ctx, audit.Entry{
		ActorID:  p.ID,
		TenantID: p.TenantID,
		BranchID: p.BranchID,
		Type:     audit.TypeLogin,
		Details:  map[string]any{"session_id": pair.SessionID, "two_factor": false},
	})
	e.observer.LoginResult(ResultSuccess)
	return &LoginResult{Tokens: pair, Principal: p}, nil
}

func (e *Engine) recordFailure(ctx context.Context, p *store.Principal, now time.Time) error {
	st, err := e.directory.RecordLoginFailure(ctx, p.ID, now, e.lockoutPolicy())
	if err != nil {
		e.log.Warn("record login failure failed", logger.PrincipalID(p.ID), logger.Err(err))
		e.failedLogin(ctx, p.TenantID, p.ID, "bad_password", nil)
		e.observer.LoginResult(ResultInvalid)
		return ErrInvalidCredentials
	}
	details := map[string]any{"attempts": st.Attempts}
	if st.Locked {
		details["locked_until"] = st.LockedUntil.UTC().Format(time.RFC3339)
		e.failedLogin(ctx, p.TenantID, p.ID, "locked_now", details)
		e.observer.LoginResult(ResultLocked)
		return ErrAccountLocked
	}
	e.failedLogin(ctx, p.TenantID, p.ID, "bad_password", details)
	e.observer.LoginResult(ResultInvalid)
	return ErrInvalidCredentials
}

func (e *Engine) activeTenant(ctx context.Context, tenantID string) (*store.Tenant, error) {
	t, err := e.directory.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTenantInactive
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !t.Active() {
		return nil, ErrTenantInactive
	}
	return t, nil
}

func (e *Engine) upgradeHash(ctx context.Context, principalID, pw string) {
	hash, err := e.hasher.Hash(pw)
	if err == nil {
		err = e.directory.UpdatePasswordHash(ctx, principalID, hash)
	}
	if err != nil {
		e.log.Warn("password rehash failed", logger.PrincipalID(principalID), logger.Err(err))
	}
}

func (e *Engine) startChallenge(ctx context.Context, p *store.Principal, deviceID string, now time.Time) (*LoginResult, error) {
	id := uuid.NewString()
	expires := now.Add(e.config.Challenge.TTL)
	err := e.challenges.Save(ctx, id, &loginChallenge{
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		DeviceID:    deviceID,
		ExpiresAt:   expires.Unix(),
	}, e.config.Challenge.TTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.observer.LoginResult(ResultTwoFactor)
	return &LoginResult{
		RequiresTwoFactor: true,
		ChallengeID:       id,
		ChallengeExpires:  expires,
		Principal:         p,
	}, nil
}

// CompleteTwoFactorLogin finishes a login with a TOTP or recovery code.
// Every failure is ErrTwoFactorFailed; the challenge dies after
// Challenge.MaxAttempts wrong codes.
func (e *Engine) CompleteTwoFactorLogin(ctx context.Context, challengeID, code, deviceID string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if challengeID == "" || code == "" {
		return nil, fmt.Errorf("%w: challenge and code are required", ErrValidation)
	}

	rec, err := e.challenges.Get(ctx, challengeID)
	switch {
	case errors.Is(err, errChallengeNotFound), errors.Is(err, errChallengeExpired):
		e.observer.LoginResult(ResultTwoFactorError)
		return nil, ErrTwoFactorFailed
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	p, err := e.directory.GetPrincipal(ctx, rec.TenantID, rec.PrincipalID)
	if err != nil {
		_, _ = e.challenges.Delete(ctx, challengeID)
		return nil, ErrTwoFactorFailed
	}
	if p.Status != store.StatusActive || p.LockedAt(e.now()) {
		_, _ = e.challenges.Delete(ctx, challengeID)
		return nil, ErrAccountInactive
	}

	method, err := e.twoFactor.Verify(ctx, p.ID, code)
	if err != nil {
		if !errors.Is(err, twofactor.ErrInvalidCode) && !errors.Is(err, twofactor.ErrNotEnabled) {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		exceeded, ferr := e.challenges.RecordFailure(ctx, challengeID, e.config.Challenge.MaxAttempts)
		if ferr != nil && !errors.Is(ferr, errChallengeNotFound) && !errors.Is(ferr, errChallengeExpired) {
			e.log.Warn("two-factor challenge failure not recorded", logger.Err(ferr))
		}
		e.failedLogin(ctx, p.TenantID, p.ID, "two_factor", map[string]any{"challenge_destroyed": exceeded})
		e.observer.LoginResult(ResultTwoFactorError)
		return nil, ErrTwoFactorFailed
	}

	consumed, err := e.challenges.Delete(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !consumed {
		e.observer.LoginResult(ResultTwoFactorError)
		return nil, ErrTwoFactorFailed
	}

	if rec.DeviceID != "" {
		deviceID = rec.DeviceID
	}
	pair, err := e.issueSession(ctx, p, deviceID, true)
	if err != nil {
		return nil, err
	}
	e.emitAudit(ctx, audit.Entry{
		ActorID:  p.ID,
		TenantID: p.TenantID,
		BranchID: p.BranchID,
		Type:     audit.TypeLogin,
		Details:  map[string]any{"session_id": pair.SessionID, "two_factor": true, "method": string(method)},
	})
	e.observer.LoginResult(ResultSuccess)
	return &LoginResult{Tokens: pair, Principal: p}, nil
}

// issueSession mints a token pair on a new session.
func (e *Engine) issueSession(ctx context.Context, p *store.Principal, deviceID string, tfa bool) (*TokenPair, error) {
	info := ClientInfoFromContext(ctx)
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	subject := jwt.Subject{
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		Role:        string(p.Role),
		TwoFactor:   tfa,
		SessionID:   uuid.NewString(),
	}
	binding := jwt.DeviceBinding{DeviceID: deviceID, UserAgent: info.UserAgent, IP: info.IP}

	evicted, err := e.sessions.Add(ctx, session.Session{
		ID:          subject.SessionID,
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		DeviceID:    deviceID,
		UserAgent:   info.UserAgent,
		IP:          info.IP,
		LoginAt:     e.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(evicted) > 0 {
		e.log.Info("session cap reached; oldest sessions evicted",
			logger.PrincipalID(p.ID), zap.Strings("evicted", evicted))
	}
	return e.signPair(ctx, subject, binding)
}

// signPair signs both tokens and records the refresh token on its session.
func (e *Engine) signPair(ctx context.Context, subject jwt.Subject, binding jwt.DeviceBinding) (*TokenPair, error) {
	accessToken, accessClaims, err := e.access.IssueAccess(subject)
	if err != nil {
		return nil, err
	}
	refreshToken, refreshClaims, err := e.refresh.IssueRefresh(subject, binding)
	if err != nil {
		return nil, err
	}

	err = e.sessions.SetRefresh(ctx, session.RefreshRecord{
		Hash:        internal.HashToken(refreshToken),
		PrincipalID: subject.PrincipalID,
		TenantID:    subject.TenantID,
		SessionID:   subject.SessionID,
		IssuedAt:    refreshClaims.IssuedAt.Time,
		ExpiresAt:   refreshClaims.ExpiresAt.Time,
	})
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrRevoked
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
		SessionID:        subject.SessionID,
		DeviceID:         binding.DeviceID,
	}, nil
}
