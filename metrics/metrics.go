package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mosleh92/exchange-platform-v3-sub012/revocation"
)

const namespace = "authkernel"

// Source is the engine state read at scrape time.
type Source interface {
	AuditDropped() uint64
	RevocationStats() revocation.Stats
}

type Metrics struct {
	registry *prometheus.Registry

	logins         *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	revocations    *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	fraudDecisions *prometheus.CounterVec
	riskScore      prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_verify_total",
			Help:      "Access token verifications by result.",
		}, []string{"result"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Token and principal revocations.",
		}, []string{"kind"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by rate limits.",
		}, []string{"scope"}),
		fraudDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fraud_decisions_total",
			Help:      "Fraud lane decisions.",
		}, []string{"decision"}),
		riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fraud_risk_score",
			Help:      "Composite fraud risk scores.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.logins, m.verifications, m.revocations, m.rateLimited,
		m.fraudDecisions, m.riskScore, m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Watch registers the scrape-time gauges of src. Call it once, after the
// engine is built.
func (m *Metrics) Watch(src Source) {
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Audit events lost to a full buffer.",
		}, func() float64 { return float64(src.AuditDropped()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "revocation_backend",
			Help:      "1 while revocation runs on Redis, 0 on the memory fallback.",
		}, func() float64 {
			if src.RevocationStats().Backend == revocation.BackendRedis {
				return 1
			}
			return 0
		}),
	)
}

func (m *Metrics) LoginResult(result string) { m.logins.WithLabelValues(result).Inc() }
func (m *Metrics) TokenVerify(result string) { m.verifications.WithLabelValues(result).Inc() }
func (m *Metrics) Revocation(kind string)    { m.revocations.WithLabelValues(kind).Inc() }
func (m *Metrics) RateLimited(scope string)  { m.rateLimited.WithLabelValues(scope).Inc() }

func (m *Metrics) FraudDecision(decision string, score float64) {
	m.fraudDecisions.WithLabelValues(decision).Inc()
	m.riskScore.Observe(score)
}

// Registry exposes the private registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument counts requests by chi route pattern so path parameters do
// not explode label cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
