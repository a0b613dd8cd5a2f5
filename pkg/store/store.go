// Package store is the thin persistence adapter (§4.A) over the external
// key/value substrate. It exposes exactly the operations the core needs:
// strings with TTL, lists, sorted sets, sets, and PING, and nothing about
// job or batch semantics. All methods are safe for concurrent callers: a
// single shared *redis.Client plus constant key names, no locking on our
// side.
package store

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store wraps a Redis client with the operation set the core packages need.
// Any substrate offering the same primitives (ordered lists, sorted sets,
// string TTL, atomic SETNX+EXPIRE) would satisfy this contract; we only
// ever use the *redis.Client concretely, per §1 ("any equivalent substrate
// suffices" is a design note, not a requirement to abstract behind an
// interface nobody else implements).
type Store struct {
	Redis *redis.Client
}

// New builds a Store from a Redis connection URL (redis://... or
// unix://...), matching cmd/providers/redis.go's connect-then-ping pattern.
func New(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rd := redis.NewClient(opts)
	if err := rd.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Store{Redis: rd}, nil
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.Redis.Close()
}

// Ping round-trips to Redis and returns the latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.Redis.Ping(ctx).Err(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Get returns the string value of key, or "" with ok=false if absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.Redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set unconditionally sets key to value, with no expiration.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.Redis.Set(ctx, key, value, 0).Err()
}

// SetEx sets key to value with a TTL.
func (s *Store) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.Redis.Set(ctx, key, value, ttl).Err()
}

// SetNXExpire atomically sets key to value only if absent, and attaches a
// TTL in the same operation. This is the compound primitive §4.A requires
// for idempotency admission; go-redis's SetNX already couples SET with
// EX when given a non-zero expiration, so this is a single round trip.
func (s *Store) SetNXExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.Redis.SetNX(ctx, key, value, ttl).Result()
}

// Del removes one or more keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.Redis.Del(ctx, keys...).Err()
}

// Expire attaches a TTL to an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.Redis.Expire(ctx, key, ttl).Err()
}

// RPush appends values to the tail of a list.
func (s *Store) RPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.Redis.RPush(ctx, key, args...).Err()
}

// LPop removes and returns the head of a list, or ok=false if empty.
func (s *Store) LPop(ctx context.Context, key string) (string, bool, error) {
	v, err := s.Redis.LPop(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// LRange returns a slice of a list, Redis LRANGE semantics (inclusive,
// negative indices count from the tail).
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.Redis.LRange(ctx, key, start, stop).Result()
}

// LLen returns the length of a list.
func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	return s.Redis.LLen(ctx, key).Result()
}

// ZAdd adds a member with a score to a sorted set.
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.Redis.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err()
}

// ZPopMin atomically removes and returns up to count of the lowest-scored
// members of a sorted set, the primitive §4.D's priority-ordered waiting
// queue reserves against.
func (s *Store) ZPopMin(ctx context.Context, key string, count int64) ([]redis.Z, error) {
	return s.Redis.ZPopMin(ctx, key, count).Result()
}

// ZRangeByScore returns members scored within [min,max].
func (s *Store) ZRangeByScore(ctx context.Context, key, min, max string) ([]string, error) {
	return s.Redis.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
}

// ZRem removes members from a sorted set.
func (s *Store) ZRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.Redis.ZRem(ctx, key, args...).Err()
}

// ZScore returns the score of a member, or ok=false if absent.
func (s *Store) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	v, err := s.Redis.ZScore(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// SAdd adds members to a set.
func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.Redis.SAdd(ctx, key, args...).Err()
}

// SMembers returns all members of a set.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.Redis.SMembers(ctx, key).Result()
}
