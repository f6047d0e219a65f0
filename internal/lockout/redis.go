package lockout

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	failKeyPrefix = "lockout:fail:"
	lockKeyPrefix = "lockout:lock:"
)

// RedisTracker keeps failure counters in Redis so every replica sees the
// same lockout state.
type RedisTracker struct {
	client *redis.Client
	policy Policy
}

// NewRedisTracker creates a tracker enforcing policy against client.
func NewRedisTracker(client *redis.Client, policy Policy) *RedisTracker {
	return &RedisTracker{client: client, policy: policy}
}

// Locked reports whether a lock key exists for key.
func (t *RedisTracker) Locked(ctx context.Context, key string) (bool, error) {
	n, err := t.client.Exists(ctx, lockKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("checking lockout: %w", err)
	}
	return n > 0, nil
}

// Fail increments the failure counter, starting the window on the first
// failure, and sets the lock key once the threshold is reached. Only
// commands available before Redis 7 are used.
func (t *RedisTracker) Fail(ctx context.Context, key string) (bool, error) {
	failKey := failKeyPrefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, failKey)
		ttl = pipe.TTL(ctx, failKey)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("recording failed attempt: %w", err)
	}

	// A counter without a TTL was just created, or lost its Expire to an
	// earlier failure; either way the window starts now.
	if ttl.Val() < 0 {
		if err := t.client.Expire(ctx, failKey, t.policy.Window).Err(); err != nil {
			return false, fmt.Errorf("starting failure window: %w", err)
		}
	}

	if incr.Val() < int64(t.policy.MaxAttempts) {
		return t.Locked(ctx, key)
	}

	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, lockKeyPrefix+key, "1", t.policy.Duration)
		pipe.Del(ctx, failKey)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("setting lockout: %w", err)
	}
	return true, nil
}

// Reset removes the failure counter for key. An active lock is left to expire.
func (t *RedisTracker) Reset(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, failKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("resetting lockout counter: %w", err)
	}
	return nil
}
