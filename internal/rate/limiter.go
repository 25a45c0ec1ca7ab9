package rate

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
)

// Rule is one limit: at most Limit hits per Window for each key.
type Rule struct {
	Scope  string
	Limit  int64
	Window time.Duration
}

// The request limits of the HTTP surface.
var (
	Global = Rule{Scope: "global", Limit: 1000, Window: 15 * time.Minute}
	Auth   = Rule{Scope: "auth", Limit: 10, Window: 15 * time.Minute}
	API    = Rule{Scope: "api", Limit: 500, Window: 15 * time.Minute}
)

// Result is the state of one counter after a hit.
type Result struct {
	Allowed    bool
	Count      int64
	Remaining  int64
	RetryAfter time.Duration
}

// Config holds limiter tuning parameters.
type Config struct {
	OpTimeout time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Limiter counts hits in Redis and falls back to a process-local cache
// while Redis is down.
type Limiter struct {
	redis     redis.UniversalClient
	local     *gocache.Cache
	mu        sync.Mutex
	opTimeout time.Duration
	now       func() time.Time
	log       *zap.Logger
	degraded  atomic.Bool
}

// New creates a [Limiter]. A nil client counts in memory only.
func New(redisClient redis.UniversalClient, cfg Config, log *zap.Logger) *Limiter {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		redis:     redisClient,
		local:     gocache.New(15*time.Minute, time.Minute),
		opTimeout: cfg.OpTimeout,
		now:       cfg.Now,
		log:       logger.OrNop(log).With(logger.Component("rate")),
	}
}

func windowKey(rule Rule, key string, now time.Time) (string, time.Time) {
	span := int64(rule.Window / time.Second)
	if span <= 0 {
		span = 1
	}
	index := now.Unix() / span
	end := time.Unix((index+1)*span, 0)
	return "rl:" + rule.Scope + ":" + key + ":" + strconv.FormatInt(index, 10), end
}

// Allow records one hit for key under rule. A hit over the limit is still
// counted and reported with Allowed false and the time left in the window.
func (l *Limiter) Allow(ctx context.Context, rule Rule, key string) Result {
	now := l.now()
	k, end := windowKey(rule, key, now)

	left := end.Sub(now)
	count, err := l.incrementRemote(ctx, k, left)
	if err != nil {
		count = l.incrementLocal(k, left)
	}

	res := Result{Count: count, Allowed: rule.Limit <= 0 || count <= rule.Limit}
	if rule.Limit > 0 {
		res.Remaining = max(rule.Limit-count, 0)
	}
	if !res.Allowed {
		res.RetryAfter = left
	}
	return res
}

func (l *Limiter) incrementRemote(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if l.redis == nil {
		return 0, ErrBackendUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	count, err := l.incrementUntil(ctx, key, ttl)
	if err != nil {
		if l.degraded.CompareAndSwap(false, true) {
			l.log.Warn("redis unavailable; rate limits counted per node", logger.Err(err))
		}
		return 0, err
	}
	if l.degraded.CompareAndSwap(true, false) {
		l.log.Info("rate limits back on redis")
	}
	return count, nil
}

// incrementUntil bumps key and arms its expiry in one MULTI so that no
// counter outlives its window.
func (l *Limiter) incrementUntil(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return incr.Val(), nil
}

func (l *Limiter) incrementLocal(key string, ttl time.Duration) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ttl <= 0 {
		ttl = time.Second
	}
	_ = l.local.Add(key, int64(0), ttl)
	n, err := l.local.IncrementInt64(key, 1)
	if err != nil {
		l.local.Set(key, int64(1), ttl)
		return 1
	}
	return n
}
