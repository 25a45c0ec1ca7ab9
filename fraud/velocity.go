package fraud

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
)

// Window is one velocity band.
type Window struct {
	Name      string
	Span      time.Duration
	Threshold int64
}

// DefaultWindows are the 1m, 1h, 24h and 7d bands.
func DefaultWindows() []Window {
	return []Window{
		{Name: "1m", Span: time.Minute, Threshold: 10},
		{Name: "1h", Span: time.Hour, Threshold: 100},
		{Name: "24h", Span: 24 * time.Hour, Threshold: 500},
		{Name: "7d", Span: 7 * 24 * time.Hour, Threshold: 2000},
	}
}

// VelocityResult holds post-increment counts per window.
type VelocityResult struct {
	Counts      map[string]int64 `json:"counts"`
	Exceeded    []string         `json:"exceeded,omitempty"`
	IsExcessive bool             `json:"is_excessive"`
}

// Indicator converts exceeded bands into a MEDIUM indicator, HIGH when two
// or more bands are exceeded.
func (r VelocityResult) Indicator(kind string) (Indicator, bool) {
	if !r.IsExcessive {
		return Indicator{}, false
	}
	level := LevelMedium
	if len(r.Exceeded) >= 2 {
		level = LevelHigh
	}
	return Indicator{Type: "velocity_" + kind, Level: level, Confidence: 1.0}, true
}

// Velocity counts events in fixed time buckets. Redis INCR is the primary
// counter; a process-local cache takes over while Redis fails.
type Velocity struct {
	redis     redis.UniversalClient
	local     *gocache.Cache
	windows   []Window
	opTimeout time.Duration
	now       func() time.Time
	log       *zap.Logger
	degraded  atomic.Bool
}

// NewVelocity returns counters over windows. A nil client counts in memory.
func NewVelocity(client redis.UniversalClient, windows []Window, log *zap.Logger) *Velocity {
	if len(windows) == 0 {
		windows = DefaultWindows()
	}
	return &Velocity{
		redis:     client,
		local:     gocache.New(time.Hour, 5*time.Minute),
		windows:   windows,
		opTimeout: 250 * time.Millisecond,
		now:       time.Now,
		log:       logger.OrNop(log).With(logger.Component("fraud-velocity")),
	}
}

// bucketSeconds is the bucket width of w, never below one second.
func bucketSeconds(w Window) int64 {
	return max(int64(w.Span/time.Second), 1)
}

func bucketKey(kind, id string, w Window, now time.Time) string {
	bucket := now.Unix() / bucketSeconds(w)
	return "vel:" + kind + ":" + id + ":" + w.Name + ":" + strconv.FormatInt(bucket, 10)
}

// Track increments every window for (kind, id) and reports the new counts.
func (v *Velocity) Track(ctx context.Context, kind, id string) VelocityResult {
	now := v.now()
	keys := make([]string, len(v.windows))
	for i, w := range v.windows {
		keys[i] = bucketKey(kind, id, w, now)
	}

	counts, ok := v.trackRemote(ctx, keys)
	if !ok {
		counts = v.trackLocal(keys)
	}

	res := VelocityResult{Counts: make(map[string]int64, len(v.windows))}
	for i, w := range v.windows {
		res.Counts[w.Name] = counts[i]
		if w.Threshold > 0 && counts[i] > w.Threshold {
			res.Exceeded = append(res.Exceeded, w.Name)
		}
	}
	res.IsExcessive = len(res.Exceeded) > 0
	return res
}

func (v *Velocity) trackRemote(ctx context.Context, keys []string) ([]int64, bool) {
	if v.redis == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, v.opTimeout)
	defer cancel()

	incrs := make([]*redis.IntCmd, len(keys))
	_, err := v.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			incrs[i] = pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, v.windows[i].Span+time.Minute)
		}
		return nil
	})
	if err != nil {
		if v.degraded.CompareAndSwap(false, true) {
			v.log.Warn("redis unavailable; velocity counting in memory", logger.Err(err))
		}
		return nil, false
	}
	if v.degraded.CompareAndSwap(true, false) {
		v.log.Info("velocity counting back on redis")
	}

	out := make([]int64, len(keys))
	for i, c := range incrs {
		out[i] = c.Val()
	}
	return out, true
}

func (v *Velocity) trackLocal(keys []string) []int64 {
	out := make([]int64, len(keys))
	for i, key := range keys {
		_ = v.local.Add(key, int64(0), v.windows[i].Span+time.Minute)
		n, err := v.local.IncrementInt64(key, 1)
		if err != nil {
			v.local.Set(key, int64(1), v.windows[i].Span+time.Minute)
			n = 1
		}
		out[i] = n
	}
	return out
}
