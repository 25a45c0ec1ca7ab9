package middleware

import (
	"math"
	"net/http"
	"strconv"

	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/gate"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/rate"
)

// RateLimiter applies rate rules per client IP. Run it after ClientInfo.
type RateLimiter struct {
	limiter *rate.Limiter
	audit   gate.AuditRecorder
	onError ErrorHandler
	// OnLimited is called with the rule scope of every rejected request.
	OnLimited func(scope string)
}

func NewRateLimiter(l *rate.Limiter, rec gate.AuditRecorder, onError ErrorHandler) *RateLimiter {
	if onError == nil {
		onError = PlainError
	}
	return &RateLimiter{limiter: l, audit: rec, onError: onError}
}

// Limit rejects requests over rule with 429 and a Retry-After header.
func (rl *RateLimiter) Limit(rule rate.Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := authkernel.ClientInfoFromContext(r.Context())
			key := info.IP
			if key == "" {
				key = ClientIP(r, false)
			}

			res := rl.limiter.Allow(r.Context(), rule, key)
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rule.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if res.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			if rl.audit != nil {
				rl.audit.Record(r.Context(), audit.Entry{
					Type:      audit.TypeRateLimitExceeded,
					Level:     audit.LevelWarn,
					Details:   map[string]any{"scope": rule.Scope, "path": r.URL.Path, "count": res.Count},
					IP:        key,
					UserAgent: info.UserAgent,
					Device:    info.DeviceID,
				})
			}
			if rl.OnLimited != nil {
				rl.OnLimited(rule.Scope)
			}
			rl.onError(w, r, authkernel.ErrRateLimited)
		})
	}
}
