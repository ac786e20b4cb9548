// Package lock provides the per-account mutual exclusion held for the full
// duration of one automaton run.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockNotAcquired is returned when the account lock could not be obtained.
// The caller must fail the current run; locking is never bypassed.
var ErrLockNotAcquired = errors.New("account lock not acquired")

// releaseScript deletes the lease only if this locker still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker takes a lease per account key via SET NX with a TTL guarding
// against a crashed holder. Contenders poll until the acquire timeout expires.
type RedisLocker struct {
	client       *redis.Client
	ttl          time.Duration
	retryDelay   time.Duration
	acquireLimit time.Duration
	logger       *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &RedisLocker{
		client:       client,
		ttl:          ttl,
		retryDelay:   50 * time.Millisecond,
		acquireLimit: 10 * time.Second,
		logger:       logger,
	}
}

func (l *RedisLocker) WithAccountLock(ctx context.Context, accountKey string, fn func(ctx context.Context) error) error {
	key := "account_lock:" + accountKey
	token := uuid.NewString()

	deadline := time.Now().Add(l.acquireLimit)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLockNotAcquired, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: account %s busy", ErrLockNotAcquired, accountKey)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrLockNotAcquired, ctx.Err())
		case <-time.After(l.retryDelay):
		}
	}

	defer func() {
		if _, err := releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Result(); err != nil {
			l.logger.Warn("failed to release account lock",
				zap.String("account_key", accountKey),
				zap.Error(err),
			)
		}
	}()

	return fn(ctx)
}
