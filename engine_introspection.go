package authkernel

import (
	"context"
	"time"

	"github.com/Mosleh92/exchange-platform-v3-sub012/revocation"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisConfigured   bool
	RedisAvailable    bool
	RedisLatency      time.Duration
	RevocationBackend revocation.Backend
	AuditDropped      uint64
}

// Degraded reports a configured Redis that is not answering. Revocation
// reads then fail closed unless the in-process fallback has a hit.
func (h HealthStatus) Degraded() bool {
	return h.RedisConfigured && (!h.RedisAvailable || h.RevocationBackend != revocation.BackendRedis)
}

// Health pings Redis within the configured op timeout.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil {
		return HealthStatus{}
	}
	h := HealthStatus{
		RevocationBackend: e.revocation.Stats().Backend,
		AuditDropped:      e.AuditDropped(),
	}
	if e.redis == nil {
		return h
	}
	h.RedisConfigured = true

	ctx, cancel := context.WithTimeout(ctx, e.config.Redis.OpTimeout)
	defer cancel()
	start := time.Now()
	err := e.redis.Ping(ctx).Err()
	h.RedisLatency = time.Since(start)
	h.RedisAvailable = err == nil
	return h
}

// ActiveSessionCount counts the principal's sessions.
func (e *Engine) ActiveSessionCount(ctx context.Context, principalID string) (int, error) {
	list, err := e.Sessions(ctx, principalID)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}
