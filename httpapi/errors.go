package httpapi

import (
	"errors"
	"net/http"

	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
	"github.com/Mosleh92/exchange-platform-v3-sub012/password"
)

// AppError is the failure envelope of every endpoint.
type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithFields returns a copy carrying per-field messages.
func (e *AppError) WithFields(fields map[string]string) *AppError {
	c := *e
	c.Fields = fields
	return &c
}

// WithCause returns a copy wrapping err for logs. The cause never reaches
// the client.
func (e *AppError) WithCause(err error) *AppError {
	c := *e
	c.Err = err
	return &c
}

func newAppError(status int, code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, HTTPStatus: status}
}

var (
	ErrBadRequest         = newAppError(http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed")
	ErrInvalidCredentials = newAppError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials")
	ErrInvalidToken       = newAppError(http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token")
	ErrTokenExpired       = newAppError(http.StatusUnauthorized, "TOKEN_EXPIRED", "Token expired")
	ErrRevoked            = newAppError(http.StatusUnauthorized, "REVOKED", "Token revoked")
	ErrDeviceMismatch     = newAppError(http.StatusUnauthorized, "DEVICE_MISMATCH", "Token is bound to another device")
	ErrTwoFactorRequired  = newAppError(http.StatusUnauthorized, "TWO_FACTOR_REQUIRED", "Two-factor authentication required")
	ErrTwoFactorFailed    = newAppError(http.StatusUnauthorized, "TWO_FACTOR_FAILED", "Two-factor verification failed")
	ErrAccountLocked      = newAppError(http.StatusLocked, "ACCOUNT_LOCKED", "Account temporarily locked")
	ErrAccountInactive    = newAppError(http.StatusForbidden, "ACCOUNT_INACTIVE", "Account inactive")
	ErrTenantInactive     = newAppError(http.StatusForbidden, "TENANT_INACTIVE", "Tenant inactive")
	ErrForbidden          = newAppError(http.StatusForbidden, "FORBIDDEN", "Forbidden")
	ErrNotFound           = newAppError(http.StatusNotFound, "NOT_FOUND", "Not found")
	ErrConflict           = newAppError(http.StatusConflict, "CONFLICT", "Conflict")
	ErrRateLimited        = newAppError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
	ErrConfigInvalid      = newAppError(http.StatusInternalServerError, "CONFIG_INVALID", "Server misconfigured")
	ErrStoreUnavailable   = newAppError(http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Service temporarily unavailable")
	ErrInternal           = newAppError(http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
)

var sentinelErrors = []struct {
	err error
	app *AppError
}{
	{authkernel.ErrValidation, ErrBadRequest},
	{authkernel.ErrPasswordReuse, ErrBadRequest},
	{authkernel.ErrInvalidCredentials, ErrInvalidCredentials},
	{authkernel.ErrInvalidToken, ErrInvalidToken},
	{authkernel.ErrExpiredToken, ErrTokenExpired},
	{authkernel.ErrRevoked, ErrRevoked},
	{authkernel.ErrDeviceMismatch, ErrDeviceMismatch},
	{authkernel.ErrTwoFactorRequired, ErrTwoFactorRequired},
	{authkernel.ErrTwoFactorFailed, ErrTwoFactorFailed},
	{authkernel.ErrAccountLocked, ErrAccountLocked},
	{authkernel.ErrAccountInactive, ErrAccountInactive},
	{authkernel.ErrTenantInactive, ErrTenantInactive},
	{authkernel.ErrForbidden, ErrForbidden},
	{authkernel.ErrSessionNotFound, ErrNotFound},
	{authkernel.ErrConflict, ErrConflict},
	{authkernel.ErrRateLimited, ErrRateLimited},
	{authkernel.ErrConfigInvalid, ErrConfigInvalid},
	{authkernel.ErrStoreUnavailable, ErrStoreUnavailable},
	{authkernel.ErrEngineNotReady, ErrStoreUnavailable},
}

// FromError maps err onto the envelope. Unknown errors are INTERNAL_ERROR.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	for _, s := range sentinelErrors {
		if errors.Is(err, s.err) {
			out := s.app.WithCause(err)
			if errors.Is(err, authkernel.ErrPasswordReuse) {
				out.Message = authkernel.ErrPasswordReuse.Error()
			}
			var perr *password.PolicyError
			if errors.As(err, &perr) {
				out.Fields = map[string]string{"newPassword": perr.Error()}
			}
			return out
		}
	}
	return ErrInternal.WithCause(err)
}

type errorBody struct {
	Success bool `json:"success"`
	*AppError
}

// WriteError renders err. Server-side failures are logged with the cause.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	app := FromError(err)
	if app.HTTPStatus >= http.StatusInternalServerError {
		logger.From(r.Context(), nil).Error("request failed",
			logger.Method(r.Method), logger.Path(r.URL.Path), logger.Err(app.Err))
	}
	writeJSON(w, app.HTTPStatus, errorBody{AppError: app})
}
