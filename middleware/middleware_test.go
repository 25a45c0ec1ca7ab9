package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/gate"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/rate"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store/memory"
)

type staticVerifier map[string]authkernel.Identity

func (s staticVerifier) VerifyAccess(_ context.Context, token string) (*authkernel.Identity, error) {
	id, ok := s[token]
	if !ok {
		return nil, authkernel.ErrInvalidToken
	}
	return &id, nil
}

type entries struct {
	mu   sync.Mutex
	list []audit.Entry
}

func (e *entries) Record(_ context.Context, in audit.Entry) audit.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, in)
	return audit.Event{}
}

func TestBearerToken(t *testing.T) {
	for _, tc := range []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	} {
		token, ok := BearerToken(tc.header)
		assert.Equal(t, tc.ok, ok, tc.header)
		assert.Equal(t, tc.token, token, tc.header)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "192.0.2.10", ClientIP(r, false))
	assert.Equal(t, "203.0.113.9", ClientIP(r, true))

	r.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "192.0.2.10", ClientIP(r, true))
}

func TestClientInfoMiddleware(t *testing.T) {
	var got authkernel.ClientInfo
	h := ClientInfo(false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = authkernel.ClientInfoFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	r.Header.Set("User-Agent", "desk/1.0")
	r.Header.Set(DeviceHeader, "dev-7")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, authkernel.ClientInfo{IP: "192.0.2.10", UserAgent: "desk/1.0", DeviceID: "dev-7"}, got)
}

func TestRateLimiterRejectsWithRetryAfter(t *testing.T) {
	rec := &entries{}
	rl := NewRateLimiter(rate.New(nil, rate.Config{}, nil), rec, nil)
	var limited []string
	rl.OnLimited = func(scope string) { limited = append(limited, scope) }

	rule := rate.Rule{Scope: "auth", Limit: 2, Window: time.Minute}
	h := ClientInfo(false)(rl.Limit(rule)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	do := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		r.RemoteAddr = "192.0.2.10:5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusNoContent, do().Code)
	assert.Equal(t, http.StatusNoContent, do().Code)
	w := do()
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, []string{"auth"}, limited)

	require.Len(t, rec.list, 1)
	assert.Equal(t, audit.TypeRateLimitExceeded, rec.list[0].Type)
	assert.Equal(t, "192.0.2.10", rec.list[0].IP)
}

func TestGuardStoresDecision(t *testing.T) {
	ctx := context.Background()
	dir := memory.New()
	require.NoError(t, dir.CreateTenant(ctx, store.Tenant{ID: "t1"}))
	require.NoError(t, dir.CreateTenant(ctx, store.Tenant{ID: "t2"}))
	require.NoError(t, dir.CreatePrincipal(ctx, store.Principal{ID: "p1", TenantID: "t1", Identifier: "a@t1", Role: store.RoleTenantAdmin}))
	g := gate.New(staticVerifier{"tok": {PrincipalID: "p1", TenantID: "t1"}}, dir, nil, nil)

	router := chi.NewRouter()
	router.With(Guard(g, gate.ActionCustomersRead, nil)).Get("/tenants/{tenantID}/customers", func(w http.ResponseWriter, r *http.Request) {
		d, ok := gate.FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(d.Scope.TenantID))
	})

	for _, tc := range []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"own tenant", "/tenants/t1/customers", "Bearer tok", http.StatusOK},
		{"other tenant", "/tenants/t2/customers", "Bearer tok", http.StatusForbidden},
		{"query tenant", "/tenants/t1/customers?tenantId=t2", "Bearer tok", http.StatusForbidden},
		{"no token", "/tenants/t1/customers", "", http.StatusUnauthorized},
		{"bad token", "/tenants/t1/customers", "Bearer nope", http.StatusUnauthorized},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "t1", w.Body.String())
			}
		})
	}
}
