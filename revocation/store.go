package revocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
)

// ErrStoreUnavailable means the remote store could not answer. A caller
// checking revocation must treat it as "cannot prove not revoked".
var ErrStoreUnavailable = errors.New("revocation store unavailable")

// Backend names the live storage.
type Backend string

const (
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// Config tunes timeouts and the fallback.
type Config struct {
	// OpTimeout bounds every Redis call.
	OpTimeout time.Duration
	// ProbeInterval is how often a degraded store pings Redis.
	ProbeInterval time.Duration
	// CutoffTTL is how long a principal cutoff is kept. It should be at
	// least the refresh token lifetime.
	CutoffTTL       time.Duration
	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.OpTimeout <= 0 {
		c.OpTimeout = 250 * time.Millisecond
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 5 * time.Second
	}
	if c.CutoffTTL <= 0 {
		c.CutoffTTL = 30 * 24 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	return c
}

// Stats describes the live backend.
type Stats struct {
	Backend       Backend
	Transitions   uint64
	LastError     string
	MemoryEntries int
}

// Store is safe for concurrent use.
type Store struct {
	cfg    Config
	log    *zap.Logger
	remote *redisBackend
	mem    *memoryBackend

	degraded    atomic.Bool
	transitions atomic.Uint64
	lastErr     atomic.Value

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New returns a store backed by client. A nil client runs on the memory
// fallback only.
func New(client redis.UniversalClient, cfg Config, log *zap.Logger) *Store {
	s := &Store{
		cfg:  cfg.withDefaults(),
		log:  logger.OrNop(log).With(logger.Component("revocation")),
		stop: make(chan struct{}),
	}
	s.mem = newMemoryBackend(s.cfg.CleanupInterval)
	s.lastErr.Store("")

	if client == nil {
		s.log.Warn("no redis configured; revocation runs on in-memory fallback")
		return s
	}

	s.remote = &redisBackend{client: client}
	s.wg.Add(1)
	go s.probe()
	return s
}

// Close stops the background probe. It does not close the Redis client.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
}

func (s *Store) useRemote() bool {
	return s.remote != nil && !s.degraded.Load()
}

// Revoke denylists token for ttl. A non-positive ttl is a no-op since the
// token has already expired. If Redis fails the entry is kept in memory and
// the store degrades.
func (s *Store) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if token == "" || ttl <= 0 {
		return nil
	}

	if s.useRemote() {
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		err := s.remote.revoke(opCtx, token, ttl)
		cancel()
		if err == nil {
			return nil
		}
		s.markDegraded(err)
	}

	s.mem.revoke(token, ttl)
	return nil
}

// IsRevoked reports whether token is denylisted. Unknown tokens are not
// revoked. While Redis is configured but unreachable only a memory hit is
// an answer; anything else returns ErrStoreUnavailable.
func (s *Store) IsRevoked(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	if s.mem.isRevoked(token) {
		return true, nil
	}
	if s.remote == nil {
		return false, nil
	}
	if s.degraded.Load() {
		return false, s.unavailable()
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	revoked, err := s.remote.isRevoked(opCtx, token)
	if err != nil {
		s.markDegraded(err)
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return revoked, nil
}

// Forget removes token from the denylist in both backends.
func (s *Store) Forget(ctx context.Context, token string) error {
	s.mem.forget(token)
	if !s.useRemote() {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	if err := s.remote.forget(opCtx, token); err != nil {
		s.markDegraded(err)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokePrincipalBefore revokes every token of principal issued strictly
// before cutoff. The stored cutoff only moves forward, so repeated or
// out-of-order calls never weaken an earlier revocation.
func (s *Store) RevokePrincipalBefore(ctx context.Context, principal string, cutoff time.Time) error {
	if principal == "" {
		return errors.New("revocation: empty principal")
	}
	ts := cutoff.Unix()

	if s.useRemote() {
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		_, err := s.remote.raiseCutoff(opCtx, principal, ts, s.cfg.CutoffTTL)
		cancel()
		if err == nil {
			return nil
		}
		s.markDegraded(err)
	}

	s.mem.raiseCutoff(principal, ts, s.cfg.CutoffTTL)
	return nil
}

// IsPrincipalRevoked reports whether a token issued at iat predates the
// principal's cutoff. Degraded reads fail closed as in IsRevoked.
func (s *Store) IsPrincipalRevoked(ctx context.Context, principal string, iat time.Time) (bool, error) {
	if principal == "" {
		return false, nil
	}
	cutoff := s.mem.cutoff(principal)
	if cutoff > 0 && iat.Unix() < cutoff {
		return true, nil
	}
	if s.remote == nil {
		return false, nil
	}
	if s.degraded.Load() {
		return false, s.unavailable()
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	remote, err := s.remote.cutoff(opCtx, principal)
	if err != nil {
		s.markDegraded(err)
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return remote > 0 && iat.Unix() < remote, nil
}

// Stats reports the live backend and fallback size.
func (s *Store) Stats() Stats {
	backend := BackendMemory
	if s.useRemote() {
		backend = BackendRedis
	}
	return Stats{
		Backend:       backend,
		Transitions:   s.transitions.Load(),
		LastError:     s.lastErr.Load().(string),
		MemoryEntries: s.mem.entries(),
	}
}

func (s *Store) unavailable() error {
	return fmt.Errorf("%w: degraded: %s", ErrStoreUnavailable, s.lastErr.Load().(string))
}

func (s *Store) markDegraded(err error) {
	s.lastErr.Store(err.Error())
	if s.degraded.CompareAndSwap(false, true) {
		s.transitions.Add(1)
		s.log.Warn("redis unavailable; revocation switched to in-memory fallback", logger.Err(err))
	}
}

func (s *Store) probe() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.degraded.Load() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
			err := s.remote.ping(ctx)
			cancel()
			if err != nil {
				s.lastErr.Store(err.Error())
				continue
			}
			if s.degraded.CompareAndSwap(true, false) {
				s.transitions.Add(1)
				s.log.Info("redis reachable again; revocation back on redis")
			}
		}
	}
}
