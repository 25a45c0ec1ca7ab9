package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the session list contract consumed by the engine.
type Store interface {
	Add(ctx context.Context, s Session) (evicted []string, err error)
	Get(ctx context.Context, principalID, sessionID string) (*Session, error)
	List(ctx context.Context, principalID string) ([]Session, error)
	Remove(ctx context.Context, principalID, sessionID string) (bool, error)
	Clear(ctx context.Context, principalID string) (int, error)
	SetRefresh(ctx context.Context, rec RefreshRecord) error
	LookupRefresh(ctx context.Context, hash string) (*RefreshRecord, error)
	// TakeRefresh returns and deletes the record in one step. Of two
	// concurrent calls for the same hash at most one gets the record.
	TakeRefresh(ctx context.Context, hash string) (*RefreshRecord, error)
	DeleteRefresh(ctx context.Context, hash string) error
}

// addSessionScript stores the entry, indexes it by login time and evicts
// the oldest entries above the cap. It returns the evicted ids.
var addSessionScript = redis.NewScript(`
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
local evicted = {}
local over = redis.call('ZCARD', KEYS[2]) - tonumber(ARGV[4])
if over > 0 then
  local oldest = redis.call('ZRANGE', KEYS[2], 0, over - 1)
  for _, id in ipairs(oldest) do
    redis.call('ZREM', KEYS[2], id)
    redis.call('HDEL', KEYS[1], id)
    table.insert(evicted, id)
  end
end
redis.call('EXPIRE', KEYS[1], ARGV[5])
redis.call('EXPIRE', KEYS[2], ARGV[5])
return evicted
`)

var removeSessionScript = redis.NewScript(`
local n = redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return n
`)

var clearSessionsScript = redis.NewScript(`
local n = redis.call('HLEN', KEYS[1])
redis.call('DEL', KEYS[1], KEYS[2])
return n
`)

// RedisStore keeps a principal's sessions in a hash ("sess:<principal>")
// ordered by a sorted set ("sessidx:<principal>").
type RedisStore struct {
	redis  redis.UniversalClient
	config Config
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a Store on client.
func NewRedisStore(client redis.UniversalClient, cfg Config) *RedisStore {
	return &RedisStore{redis: client, config: cfg.withDefaults()}
}

// maxTxRetries bounds optimistic retries on a watched session hash.
const maxTxRetries = 32

func dataKey(principalID string) string { return "sess:" + principalID }
func indexKey(principalID string) string { return "sessidx:" + principalID }
func refreshKey(hash string) string { return "refresh:" + hash }
func unavailable(err error) error { return fmt.Errorf("%w: %v", ErrUnavailable, err) }
func ttlSeconds(d time.Duration) string { return strconv.FormatInt(int64(max(d/time.Second, 1)), 10) }
func score(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func (s *RedisStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.config.OpTimeout)
}

// Add inserts s and returns any sessions evicted by the cap.
func (s *RedisStore) Add(ctx context.Context, sess Session) ([]string, error) {
	if sess.ID == "" || sess.PrincipalID == "" {
		return nil, errors.New("session: id and principal required")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	evicted, err := addSessionScript.Run(ctx, s.redis,
		[]string{dataKey(sess.PrincipalID), indexKey(sess.PrincipalID)},
		sess.ID, data, score(sess.LoginAt), s.config.MaxSessions, ttlSeconds(s.config.TTL),
	).StringSlice()
	if err != nil {
		return nil, unavailable(err)
	}
	return evicted, nil
}

// Get returns one session.
func (s *RedisStore) Get(ctx context.Context, principalID, sessionID string) (*Session, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	data, err := s.redis.HGet(ctx, dataKey(principalID), sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session: corrupt entry: %w", err)
	}
	return &sess, nil
}

// List returns the principal's sessions, newest login first.
func (s *RedisStore) List(ctx context.Context, principalID string) ([]Session, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	ids, err := s.redis.ZRevRange(ctx, indexKey(principalID), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return []Session{}, nil
	}

	values, err := s.redis.HMGet(ctx, dataKey(principalID), ids...).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]Session, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var sess Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// Remove deletes one session. It reports whether the session existed.
func (s *RedisStore) Remove(ctx context.Context, principalID, sessionID string) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	n, err := removeSessionScript.Run(ctx, s.redis,
		[]string{dataKey(principalID), indexKey(principalID)}, sessionID,
	).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

// Clear drops every session of the principal and returns how many existed.
func (s *RedisStore) Clear(ctx context.Context, principalID string) (int, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	n, err := clearSessionsScript.Run(ctx, s.redis,
		[]string{dataKey(principalID), indexKey(principalID)},
	).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// SetRefresh stores rec until its expiry and points the owning session at it.
func (s *RedisStore) SetRefresh(ctx context.Context, rec RefreshRecord) error {
	ttl := time.Until(rec.ExpiresAt)
	if rec.Hash == "" || ttl <= 0 {
		return errors.New("session: refresh record requires hash and future expiry")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	key := dataKey(rec.PrincipalID)
	update := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, rec.SessionID).Bytes()
		if err != nil {
			return err
		}
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}
		sess.RefreshHash = rec.Hash
		sess.RefreshedAt = rec.IssuedAt
		updated, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, rec.SessionID, updated)
			pipe.Set(ctx, refreshKey(rec.Hash), data, ttl)
			return nil
		})
		return err
	}

	// Concurrent refreshes of one session contend on the watched hash;
	// every round lets at least one writer through.
	for i := 0; i < maxTxRetries; i++ {
		err = s.redis.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return unavailable(err)
		}
		return nil
	}
	return unavailable(err)
}

// LookupRefresh returns the record stored for a refresh token hash.
func (s *RedisStore) LookupRefresh(ctx context.Context, hash string) (*RefreshRecord, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	data, err := s.redis.Get(ctx, refreshKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	var rec RefreshRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("session: corrupt refresh record: %w", err)
	}
	rec.Hash = hash
	return &rec, nil
}

// TakeRefresh consumes a refresh record with GETDEL.
func (s *RedisStore) TakeRefresh(ctx context.Context, hash string) (*RefreshRecord, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	data, err := s.redis.GetDel(ctx, refreshKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	var rec RefreshRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("session: corrupt refresh record: %w", err)
	}
	rec.Hash = hash
	return &rec, nil
}

// DeleteRefresh removes a refresh record. Missing records are not an error.
func (s *RedisStore) DeleteRefresh(ctx context.Context, hash string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	if err := s.redis.Del(ctx, refreshKey(hash)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
