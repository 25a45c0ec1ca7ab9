package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
	"github.com/Mosleh92/exchange-platform-v3-sub012/gate"
)

// Where a caller may name a tenant. The gate compares each one with the
// token tenant.
const (
	TenantParam  = "tenantID"
	TenantQuery  = "tenantId"
	TenantHeader = "X-Tenant-ID"
	BranchQuery  = "branchId"
)

// ErrorHandler writes err as the response.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// PlainError is the fallback ErrorHandler.
func PlainError(w http.ResponseWriter, _ *http.Request, err error) {
	switch {
	case errors.Is(err, authkernel.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, authkernel.ErrRateLimited):
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	default:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

// Guard authorizes action for every request and stores the
// *gate.Decision in the request context.
func Guard(g *gate.Gate, action gate.Action, onError ErrorHandler) func(http.Handler) http.Handler {
	if onError == nil {
		onError = PlainError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				onError(w, r, authkernel.ErrInvalidToken)
				return
			}

			d, err := g.Authorize(r.Context(), gate.Request{
				Token:        token,
				Action:       action,
				PathTenant:   chi.URLParam(r, TenantParam),
				QueryTenant:  r.URL.Query().Get(TenantQuery),
				HeaderTenant: strings.TrimSpace(r.Header.Get(TenantHeader)),
				BranchID:     r.URL.Query().Get(BranchQuery),
			})
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(gate.WithDecision(r.Context(), d)))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer x" header.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
