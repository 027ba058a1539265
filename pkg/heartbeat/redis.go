package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// updateScript stores ARGV[1] only if it is newer than the stored value.
var updateScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
if tonumber(ARGV[1]) > cur then
	redis.call("SET", KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// RedisStore keeps the heartbeat as unix microseconds under a single key.
type RedisStore struct {
	client *redis.Client
	key    string
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a heartbeat store under keyPrefix+"heartbeat:"+lockName.
func NewRedisStore(client *redis.Client, keyPrefix, lockName string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "masterlock:"
	}
	return &RedisStore{
		client: client,
		key:    keyPrefix + "heartbeat:" + lockName,
	}
}

// Update records t unless a later heartbeat is already stored.
func (s *RedisStore) Update(ctx context.Context, t time.Time) error {
	if err := updateScript.Run(ctx, s.client, []string{s.key}, t.UnixMicro()).Err(); err != nil {
		return fmt.Errorf("failed to write heartbeat: %w", err)
	}
	return nil
}

// Reset records t unconditionally.
func (s *RedisStore) Reset(ctx context.Context, t time.Time) error {
	if err := s.client.Set(ctx, s.key, t.UnixMicro(), 0).Err(); err != nil {
		return fmt.Errorf("failed to reset heartbeat: %w", err)
	}
	return nil
}

// Last returns the latest heartbeat.
func (s *RedisStore) Last(ctx context.Context) (time.Time, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read heartbeat: %w", err)
	}

	micros, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid heartbeat value %q: %w", val, err)
	}
	return time.UnixMicro(micros), nil
}

// Key returns the Redis key holding the heartbeat.
func (s *RedisStore) Key() string {
	return s.key
}
