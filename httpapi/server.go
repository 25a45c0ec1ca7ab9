// Package httpapi is the JSON/HTTP surface of the kernel on a chi router.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
	"github.com/Mosleh92/exchange-platform-v3-sub012/gate"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/rate"
	"github.com/Mosleh92/exchange-platform-v3-sub012/metrics"
	"github.com/Mosleh92/exchange-platform-v3-sub012/middleware"
	"github.com/Mosleh92/exchange-platform-v3-sub012/twofactor"
)

// SMSSender delivers a one-time code. Delivery is outside the kernel.
type SMSSender interface {
	SendCode(ctx context.Context, tok twofactor.DeliveryToken) error
}

// Options wires a Server.
type Options struct {
	Engine  *authkernel.Engine
	Limiter *rate.Limiter
	// Metrics is optional; without it /metrics is not mounted.
	Metrics *metrics.Metrics
	SMS     SMSSender
	// TrustProxy makes X-Forwarded-For the client address.
	TrustProxy bool
	Logger     *zap.Logger
}

type Server struct {
	engine  *authkernel.Engine
	gate    *gate.Gate
	limits  *middleware.RateLimiter
	metrics *metrics.Metrics
	sms     SMSSender
	trust   bool
	log     *zap.Logger
}

func NewServer(opts Options) *Server {
	log := logger.OrNop(opts.Logger).With(logger.Component("http"))
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.New(nil, rate.Config{}, log)
	}
	s := &Server{
		engine:  opts.Engine,
		gate:    gate.New(opts.Engine, opts.Engine.Directory(), opts.Engine.Audit(), log),
		limits:  middleware.NewRateLimiter(limiter, opts.Engine.Audit(), WriteError),
		metrics: opts.Metrics,
		sms:     opts.SMS,
		trust:   opts.TrustProxy,
		log:     log,
	}
	if s.metrics != nil {
		s.limits.OnLimited = s.metrics.RateLimited
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, requestLogger(s.log), chimw.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Instrument)
	}
	r.Use(middleware.ClientInfo(s.trust))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) { WriteError(w, r, ErrNotFound) })

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.limits.Limit(rate.Global))

		r.Group(func(r chi.Router) {
			r.Use(s.limits.Limit(rate.Auth))
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/login/2fa", s.handleLoginTwoFactor)
			r.Post("/auth/refresh", s.handleRefresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.limits.Limit(rate.API))

			r.With(s.guard(gate.ActionAccountManage)).Post("/auth/logout", s.handleLogout)
			r.With(s.guard(gate.ActionAccountManage)).Post("/auth/logout-all", s.handleLogoutAll)
			r.With(s.guard(gate.ActionSessionsRead)).Get("/auth/sessions", s.handleSessions)
			r.With(s.guard(gate.ActionAccountManage)).Put("/auth/password", s.handleChangePassword)

			r.Route("/2fa", func(r chi.Router) {
				r.Use(s.guard(gate.ActionAccountManage))
				r.Get("/", s.handleTwoFactorState)
				r.Post("/setup", s.handleTwoFactorSetup)
				r.Post("/enable", s.handleTwoFactorEnable)
				r.Post("/disable", s.handleTwoFactorDisable)
				r.Post("/recovery", s.handleTwoFactorRecovery)
				r.Post("/sms", s.handleTwoFactorSMS)
				r.Post("/sms/verify", s.handleTwoFactorSMSVerify)
			})

			r.Route("/tenants/{"+middleware.TenantParam+"}", func(r chi.Router) {
				r.With(s.guard(gate.ActionCustomersRead)).Get("/customers", s.handleListCustomers)
				r.With(s.guard(gate.ActionCustomersBulk)).Post("/customers/bulk", s.handleBulkCustomers)
				r.With(s.guard(gate.ActionPrincipalsManage)).Put("/principals/{principalID}/status", s.handlePrincipalStatus)
				r.With(s.guard(gate.ActionAuditRead)).Get("/audit", s.handleAuditEvents)
			})

			r.Route("/fraud/reviews", func(r chi.Router) {
				r.Use(s.guard(gate.ActionFraudReview))
				r.Get("/", s.handleFraudReviews)
				r.Post("/{eventID}/override", s.handleFraudOverride)
			})
		})
	})
	return r
}

func (s *Server) guard(action gate.Action) func(http.Handler) http.Handler {
	return middleware.Guard(s.gate, action, WriteError)
}

// handleHealth answers 200 while degraded so the process is not recycled
// during a Redis outage; the body reports the state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.engine.Health(r.Context())
	status := "ok"
	if h.Degraded() {
		status = "degraded"
	}
	writeData(w, map[string]any{
		"status":             status,
		"revocation_backend": string(h.RevocationBackend),
		"redis_configured":   h.RedisConfigured,
		"redis_available":    h.RedisAvailable,
		"redis_latency_ms":   h.RedisLatency.Milliseconds(),
		"audit_dropped":      h.AuditDropped,
	})
}

func decision(r *http.Request) *gate.Decision {
	d, _ := gate.FromContext(r.Context())
	return d
}
