package revocation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tokenKeyPrefix     = "blacklist:"
	principalKeyPrefix = "user_blacklist:"
)

// raiseCutoffScript writes ARGV[1] only if it is greater than the stored
// cutoff and returns the effective cutoff.
var raiseCutoffScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local proposed = tonumber(ARGV[1])
if proposed > current then
  redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
  return proposed
end
return current
`)

type redisBackend struct {
	client redis.UniversalClient
}

func tokenKey(token string) string { return tokenKeyPrefix + token }

func principalKey(principal string) string { return principalKeyPrefix + principal }

func (r *redisBackend) revoke(ctx context.Context, token string, ttl time.Duration) error {
	return r.client.Set(ctx, tokenKey(token), "1", ttl).Err()
}

func (r *redisBackend) isRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, tokenKey(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisBackend) forget(ctx context.Context, token string) error {
	return r.client.Del(ctx, tokenKey(token)).Err()
}

func (r *redisBackend) raiseCutoff(ctx context.Context, principal string, cutoff int64, ttl time.Duration) (int64, error) {
	seconds := int64(ttl / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	return raiseCutoffScript.Run(ctx, r.client,
		[]string{principalKey(principal)},
		strconv.FormatInt(cutoff, 10), strconv.FormatInt(seconds, 10),
	).Int64()
}

func (r *redisBackend) cutoff(ctx context.Context, principal string) (int64, error) {
	v, err := r.client.Get(ctx, principalKey(principal)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

func (r *redisBackend) ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
