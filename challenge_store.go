package authkernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const challengeKeyPrefix = "tfc"

var (
	errChallengeNotFound = errors.New("two-factor challenge not found")
	errChallengeExpired  = errors.New("two-factor challenge expired")
	errChallengeBackend  = errors.New("two-factor challenge backend unavailable")
)

// loginChallenge is the state between a password login and its second factor.
type loginChallenge struct {
	PrincipalID string `json:"pid"`
	TenantID    string `json:"tid"`
	DeviceID    string `json:"did,omitempty"`
	ExpiresAt   int64  `json:"exp"`
	Attempts    int    `json:"att"`
}

// challengeStore keeps challenges in Redis under "tfc:<id>" or, without a
// client, in process.
type challengeStore struct {
	redis     redis.UniversalClient
	local     *gocache.Cache
	mu        sync.Mutex
	opTimeout time.Duration
	now       func() time.Time
}

func newChallengeStore(client redis.UniversalClient, opTimeout time.Duration, now func() time.Time) *challengeStore {
	s := &challengeStore{redis: client, opTimeout: opTimeout, now: now}
	if client == nil {
		s.local = gocache.New(5*time.Minute, time.Minute)
	}
	return s
}

func (s *challengeStore) key(id string) string {
	return challengeKeyPrefix + ":" + id
}

func (s *challengeStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.opTimeout)
}

func (s *challengeStore) Save(ctx context.Context, id string, rec *loginChallenge, ttl time.Duration) error {
	if s.local != nil {
		s.local.Set(id, *rec, ttl)
		return nil
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errChallengeBackend, err)
	}
	return nil
}

func (s *challengeStore) Get(ctx context.Context, id string) (*loginChallenge, error) {
	if s.local != nil {
		v, ok := s.local.Get(id)
		if !ok {
			return nil, errChallengeNotFound
		}
		rec := v.(loginChallenge)
		if s.now().Unix() > rec.ExpiresAt {
			s.local.Delete(id)
			return nil, errChallengeExpired
		}
		return &rec, nil
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", errChallengeBackend, err)
	}
	var rec loginChallenge
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if s.now().Unix() > rec.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(id)).Result()
		return nil, errChallengeExpired
	}
	return &rec, nil
}

// Delete consumes the challenge. Only the caller that removed it sees true,
// which makes completion single-use under concurrency.
func (s *challengeStore) Delete(ctx context.Context, id string) (bool, error) {
	if s.local != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.local.Get(id); !ok {
			return false, nil
		}
		s.local.Delete(id)
		return true, nil
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()
	n, err := s.redis.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure counts one wrong code and destroys the challenge once
// maxAttempts is reached.
func (s *challengeStore) RecordFailure(ctx context.Context, id string, maxAttempts int) (bool, error) {
	if s.local != nil {
		return s.recordFailureLocal(id, maxAttempts)
	}

	const maxRetries = 4
	key := s.key(id)
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var rec loginChallenge
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}

			rec.Attempts++
			ttl := time.Unix(rec.ExpiresAt, 0).Sub(s.now())
			if rec.Attempts >= maxAttempts || ttl <= 0 {
				exceeded = rec.Attempts >= maxAttempts
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err == nil && !exceeded {
					return errChallengeExpired
				}
				return err
			}

			updated, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return false, errChallengeNotFound
		case errors.Is(err, errChallengeExpired):
			return false, err
		case err != nil:
			return false, fmt.Errorf("%w: %v", errChallengeBackend, err)
		}
		return exceeded, nil
	}
	return false, errChallengeNotFound
}

func (s *challengeStore) recordFailureLocal(id string, maxAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.local.Get(id)
	if !ok {
		return false, errChallengeNotFound
	}
	rec := v.(loginChallenge)
	rec.Attempts++
	ttl := time.Unix(rec.ExpiresAt, 0).Sub(s.now())
	switch {
	case rec.Attempts >= maxAttempts:
		s.local.Delete(id)
		return true, nil
	case ttl <= 0:
		s.local.Delete(id)
		return false, errChallengeExpired
	}
	s.local.Set(id, rec, ttl)
	return false, nil
}
