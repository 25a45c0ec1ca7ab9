package revocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T, cfg Config) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := New(rdb, cfg, nil)
	t.Cleanup(func() {
		s.Close()
		rdb.Close()
		mr.Close()
	})
	return s, mr
}

func TestRevokeAndIsRevoked(t *testing.T) {
	s, mr := newRedisStore(t, Config{})
	ctx := context.Background()

	if revoked, err := s.IsRevoked(ctx, "tok-a"); err != nil || revoked {
		t.Fatalf("unknown token: revoked=%v err=%v", revoked, err)
	}
	if err := s.Revoke(ctx, "tok-a", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := s.IsRevoked(ctx, "tok-a")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got revoked=%v err=%v", revoked, err)
	}
	if !mr.Exists("blacklist:tok-a") {
		t.Fatal("expected blacklist key in redis")
	}
	if ttl := mr.TTL("blacklist:tok-a"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if revoked, _ := s.IsRevoked(ctx, "tok-a"); revoked {
		t.Fatal("entry should expire with its ttl")
	}
	if got := s.Stats().Backend; got != BackendRedis {
		t.Fatalf("expected redis backend, got %s", got)
	}
}

func TestRevokeNonPositiveTTLIsNoop(t *testing.T) {
	s, mr := newRedisStore(t, Config{})
	if err := s.Revoke(context.Background(), "tok-expired", 0); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if mr.Exists("blacklist:tok-expired") {
		t.Fatal("expired token must not be stored")
	}
}

func TestForget(t *testing.T) {
	s, _ := newRedisStore(t, Config{})
	ctx := context.Background()

	_ = s.Revoke(ctx, "tok-f", time.Minute)
	if err := s.Forget(ctx, "tok-f"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if revoked, _ := s.IsRevoked(ctx, "tok-f"); revoked {
		t.Fatal("forgotten token must not be revoked")
	}
}

func TestPrincipalCutoffIsMonotone(t *testing.T) {
	s, mr := newRedisStore(t, Config{CutoffTTL: time.Hour})
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	if err := s.RevokePrincipalBefore(ctx, "p-1", base.Add(10*time.Second)); err != nil {
		t.Fatalf("revoke principal: %v", err)
	}
	// An earlier cutoff must not weaken protection.
	if err := s.RevokePrincipalBefore(ctx, "p-1", base); err != nil {
		t.Fatalf("revoke principal earlier: %v", err)
	}
	got, err := mr.Get("user_blacklist:p-1")
	if err != nil {
		t.Fatalf("get cutoff: %v", err)
	}
	if got != "1700000010" {
		t.Fatalf("expected cutoff to stay at later value, got %s", got)
	}

	cases := []struct {
		iat  time.Time
		want bool
	}{
		{base, true},
		{base.Add(9 * time.Second), true},
		{base.Add(10 * time.Second), false},
		{base.Add(11 * time.Second), false},
	}
	for _, tc := range cases {
		revoked, err := s.IsPrincipalRevoked(ctx, "p-1", tc.iat)
		if err != nil {
			t.Fatalf("is principal revoked: %v", err)
		}
		if revoked != tc.want {
			t.Fatalf("iat=%d: expected %v, got %v", tc.iat.Unix(), tc.want, revoked)
		}
	}

	if revoked, _ := s.IsPrincipalRevoked(ctx, "p-other", base); revoked {
		t.Fatal("other principals are unaffected")
	}
}

func TestPrincipalCutoffConcurrentWriters(t *testing.T) {
	s, mr := newRedisStore(t, Config{})
	ctx := context.Background()
	base := int64(1_700_000_000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.RevokePrincipalBefore(ctx, "p-c", time.Unix(base+int64(i), 0))
		}(i)
	}
	wg.Wait()

	got, _ := mr.Get("user_blacklist:p-c")
	if got != "1700000049" {
		t.Fatalf("expected max cutoff, got %s", got)
	}
}

func TestMemoryOnlyStore(t *testing.T) {
	s := New(nil, Config{}, nil)
	defer s.Close()
	ctx := context.Background()

	if got := s.Stats().Backend; got != BackendMemory {
		t.Fatalf("expected memory backend, got %s", got)
	}

	_ = s.Revoke(ctx, "tok-m", 50*time.Millisecond)
	if revoked, err := s.IsRevoked(ctx, "tok-m"); err != nil || !revoked {
		t.Fatalf("expected revoked, got %v %v", revoked, err)
	}
	time.Sleep(120 * time.Millisecond)
	if revoked, _ := s.IsRevoked(ctx, "tok-m"); revoked {
		t.Fatal("memory entry should expire")
	}

	now := time.Now()
	_ = s.RevokePrincipalBefore(ctx, "p-m", now)
	_ = s.RevokePrincipalBefore(ctx, "p-m", now.Add(-time.Hour))
	if revoked, _ := s.IsPrincipalRevoked(ctx, "p-m", now.Add(-time.Second)); !revoked {
		t.Fatal("expected token before cutoff to be revoked")
	}
	if revoked, _ := s.IsPrincipalRevoked(ctx, "p-m", now); revoked {
		t.Fatal("token at cutoff is not revoked")
	}
}

func TestFallbackOnRedisOutageAndRecovery(t *testing.T) {
	s, mr := newRedisStore(t, Config{
		OpTimeout:     100 * time.Millisecond,
		ProbeInterval: 20 * time.Millisecond,
	})
	ctx := context.Background()

	_ = s.Revoke(ctx, "tok-before", time.Hour)
	issued := time.Unix(1_700_000_000, 0)
	_ = s.RevokePrincipalBefore(ctx, "p-before", issued.Add(time.Minute))
	mr.Close()

	_, err := s.IsRevoked(ctx, "tok-before")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable on remote failure, got %v", err)
	}
	st := s.Stats()
	if st.Backend != BackendMemory || st.Transitions != 1 || st.LastError == "" {
		t.Fatalf("unexpected stats after outage: %+v", st)
	}

	// Entries written to Redis before the outage must not read as live
	// while degraded.
	for i := 0; i < 3; i++ {
		if revoked, err := s.IsRevoked(ctx, "tok-before"); revoked || !errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("degraded read %d of pre-outage token: revoked=%v err=%v", i, revoked, err)
		}
		if revoked, err := s.IsPrincipalRevoked(ctx, "p-before", issued); revoked || !errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("degraded read %d of pre-outage cutoff: revoked=%v err=%v", i, revoked, err)
		}
	}

	// Writes during the outage land in memory and stay visible.
	if err := s.Revoke(ctx, "tok-during", time.Hour); err != nil {
		t.Fatalf("revoke during outage: %v", err)
	}
	if revoked, err := s.IsRevoked(ctx, "tok-during"); err != nil || !revoked {
		t.Fatalf("expected fallback revocation, got %v %v", revoked, err)
	}
	_ = s.RevokePrincipalBefore(ctx, "p-during", issued.Add(time.Minute))
	if revoked, err := s.IsPrincipalRevoked(ctx, "p-during", issued); err != nil || !revoked {
		t.Fatalf("expected fallback cutoff, got %v %v", revoked, err)
	}

	if err := mr.Restart(); err != nil {
		t.Fatalf("restart miniredis: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Stats().Backend != BackendRedis {
		if time.Now().After(deadline) {
			t.Fatal("store did not return to redis")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := s.Stats().Transitions; got != 2 {
		t.Fatalf("expected 2 transitions, got %d", got)
	}
	if revoked, err := s.IsRevoked(ctx, "tok-during"); err != nil || !revoked {
		t.Fatalf("fallback entry must survive recovery, got %v %v", revoked, err)
	}
	if revoked, err := s.IsRevoked(ctx, "tok-before"); err != nil || !revoked {
		t.Fatalf("pre-outage entry must read again after recovery, got %v %v", revoked, err)
	}
}
