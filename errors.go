package authkernel

import (
	"errors"

	"github.com/Mosleh92/exchange-platform-v3-sub012/secrets"
)

var (
	// ErrInvalidCredentials covers unknown identifiers and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")
	ErrTenantInactive     = errors.New("tenant inactive")

	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrRevoked        = errors.New("token revoked")
	ErrDeviceMismatch = errors.New("device mismatch")

	ErrTwoFactorRequired = errors.New("two-factor authentication required")
	// ErrTwoFactorFailed is returned for a wrong code and for an unknown,
	// expired or exhausted login challenge.
	ErrTwoFactorFailed = errors.New("two-factor verification failed")

	// ErrStoreUnavailable means a backend could not answer in time. Token
	// checks that hit it fail closed.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrValidation       = errors.New("validation failed")
	ErrForbidden        = errors.New("forbidden")
	ErrRateLimited      = errors.New("rate limited")
	ErrConflict         = errors.New("conflict")
	ErrPasswordReuse    = errors.New("new password must differ from the current one")
	ErrSessionNotFound  = errors.New("session not found")
	ErrEngineNotReady   = errors.New("engine not initialized")

	// ErrConfigInvalid is the secrets validator's sentinel so callers can
	// match either name.
	ErrConfigInvalid = secrets.ErrConfigInvalid
)
