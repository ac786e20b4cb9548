package lock

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLocker serializes runs per account within a single process. Used by
// tests and demo mode; deployments with more than one process use RedisLocker.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*accountLock)}
}

func (l *MemoryLocker) WithAccountLock(ctx context.Context, accountKey string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrLockNotAcquired, err)
	}

	l.mu.Lock()
	al, ok := l.locks[accountKey]
	if !ok {
		al = &accountLock{}
		l.locks[accountKey] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()
	defer func() {
		al.mu.Unlock()
		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, accountKey)
		}
		l.mu.Unlock()
	}()

	return fn(ctx)
}
