package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisBackend implements Backend on a single Redis/Valkey key holding the
// owner token. The key has no expiry; a dead holder is detected through
// heartbeats and cleared with ForceRelease.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// Ensure RedisBackend implements Backend.
var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend creates a Redis lock stored under keyPrefix+lockName.
func NewRedisBackend(client *redis.Client, keyPrefix, lockName string) *RedisBackend {
	if keyPrefix == "" {
		keyPrefix = "masterlock:"
	}
	return &RedisBackend{
		client: client,
		key:    keyPrefix + "lock:" + lockName,
	}
}

// TryAcquire sets the key to owner if it does not exist.
func (b *RedisBackend) TryAcquire(ctx context.Context, owner string) (bool, error) {
	ok, err := b.client.SetNX(ctx, b.key, owner, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set lock key: %w", err)
	}
	if ok {
		return true, nil
	}

	holder, err := b.Holder(ctx)
	if err != nil {
		return false, err
	}
	return holder == owner, nil
}

// Release deletes the key if owner still holds it.
func (b *RedisBackend) Release(ctx context.Context, owner string) error {
	deleted, err := releaseScript.Run(ctx, b.client, []string{b.key}, owner).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock key: %w", err)
	}
	if deleted == 0 {
		return ErrNotHeld
	}
	return nil
}

// ForceRelease deletes the key unconditionally.
func (b *RedisBackend) ForceRelease(ctx context.Context) error {
	if err := b.client.Del(ctx, b.key).Err(); err != nil {
		return fmt.Errorf("failed to delete lock key: %w", err)
	}
	return nil
}

// Holder returns the token stored in the key, "" when absent.
func (b *RedisBackend) Holder(ctx context.Context) (string, error) {
	holder, err := b.client.Get(ctx, b.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get lock key: %w", err)
	}
	return holder, nil
}

// Key returns the Redis key backing the lock.
func (b *RedisBackend) Key() string {
	return b.key
}
