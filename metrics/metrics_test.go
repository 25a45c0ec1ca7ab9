package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
	"github.com/Mosleh92/exchange-platform-v3-sub012/revocation"
)

var _ authkernel.Observer = (*Metrics)(nil)

type fakeSource struct {
	dropped uint64
	backend revocation.Backend
}

func (f fakeSource) AuditDropped() uint64 { return f.dropped }
func (f fakeSource) RevocationStats() revocation.Stats {
	return revocation.Stats{Backend: f.backend}
}

func TestObserverCounters(t *testing.T) {
	m := New()
	m.LoginResult(authkernel.ResultSuccess)
	m.LoginResult(authkernel.ResultSuccess)
	m.LoginResult(authkernel.ResultLocked)
	m.TokenVerify(authkernel.ResultRevoked)
	m.Revocation(authkernel.RevokePrincipal)
	m.RateLimited("auth")
	m.FraudDecision("BLOCK", 95)

	if got := testutil.ToFloat64(m.logins.WithLabelValues(authkernel.ResultSuccess)); got != 2 {
		t.Fatalf("login success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.fraudDecisions.WithLabelValues("BLOCK")); got != 1 {
		t.Fatalf("block decisions = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.riskScore); got != 1 {
		t.Fatalf("risk histogram series = %d, want 1", got)
	}
}

func TestHandlerExposesWatchedGauges(t *testing.T) {
	m := New()
	m.Watch(fakeSource{dropped: 3, backend: revocation.BackendRedis})

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()

	for _, want := range []string{
		"authkernel_audit_dropped_total 3",
		"authkernel_revocation_backend 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/tenants/{tenantID}/customers", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/tenants/t2/customers", nil))

	got := testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "/tenants/{tenantID}/customers", "403"))
	if got != 1 {
		t.Fatalf("routed request count = %v, want 1", got)
	}
}
