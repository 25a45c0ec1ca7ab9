package audit

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
)

// Notifier alerts administrators that an event could not be persisted.
type Notifier interface {
	Notify(ctx context.Context, e Event, cause error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event, cause error)

func (f NotifierFunc) Notify(ctx context.Context, e Event, cause error) { f(ctx, e, cause) }

// LogNotifier raises an error-level log line for operators.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: logger.OrNop(log).With(logger.Component("audit-admin"))}
}

func (n *LogNotifier) Notify(_ context.Context, e Event, cause error) {
	n.log.Error("financial audit event lost; manual reconciliation required",
		zap.String("audit_id", e.ID),
		zap.String("type", e.Type),
		logger.TenantID(e.TenantID),
		logger.PrincipalID(e.ActorID),
		logger.Err(cause),
	)
}

// ThrottledNotifier forwards at most a bounded rate of notifications and
// counts the rest.
type ThrottledNotifier struct {
	next       Notifier
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// NewThrottledNotifier passes up to burst notifications at once and refills
// at limit per second.
func NewThrottledNotifier(next Notifier, limit rate.Limit, burst int) *ThrottledNotifier {
	if burst <= 0 {
		burst = 1
	}
	return &ThrottledNotifier{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (n *ThrottledNotifier) Notify(ctx context.Context, e Event, cause error) {
	if n.next == nil {
		return
	}
	if !n.limiter.Allow() {
		n.suppressed.Add(1)
		return
	}
	n.next.Notify(ctx, e, cause)
}

// Suppressed returns how many notifications were dropped by the limiter.
func (n *ThrottledNotifier) Suppressed() uint64 {
	return n.suppressed.Load()
}
