// Package dispatcher bounds external plugin calls: a fixed-size worker pool and
// a per-call deadline. A call that outlives its deadline is not cancelled (a
// gateway call in flight cannot be safely aborted) but the caller gets
// ErrTimeout and must treat the transaction as indeterminate.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout signals the call did not finish within the deadline. The
	// external side effect may still have happened.
	ErrTimeout = errors.New("plugin call timed out")

	// ErrPoolSaturated signals no worker slot became available before the
	// caller's context expired.
	ErrPoolSaturated = errors.New("plugin worker pool saturated")
)

// Pool is a bounded set of worker slots shared by all plugin calls.
type Pool struct {
	slots   chan struct{}
	timeout time.Duration
}

func NewPool(workers int, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pool{slots: make(chan struct{}, workers), timeout: timeout}
}

func (p *Pool) Timeout() time.Duration { return p.timeout }

// Dispatch runs fn on a pool slot and waits up to the pool deadline for its
// result. Panics inside fn are recovered and returned as errors. On timeout
// the slot is released only once fn eventually returns.
func Dispatch[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %w", ErrPoolSaturated, ctx.Err())
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("plugin call panicked: %v", r)}
			}
			<-p.slots
		}()
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.value, r.err
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
