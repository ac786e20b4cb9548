package control

import (
	"context"
	"time"

	"github.com/openbilling/payment-core/internal/plugin"
)

// BackoffRetryPolicy schedules retries for failed gateway calls with
// exponential backoff: min(base << attempt, max), up to MaxAttempts. Past the
// limit it returns no retry date and the failure becomes terminal.
type BackoffRetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Clock       func() time.Time
}

func NewBackoffRetryPolicy(maxAttempts int, base, max time.Duration) *BackoffRetryPolicy {
	return &BackoffRetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    max,
		Clock:       time.Now,
	}
}

func (p *BackoffRetryPolicy) PriorCall(context.Context, plugin.ControlContext) (*plugin.PriorResult, error) {
	return nil, nil
}

func (p *BackoffRetryPolicy) OnFailureCall(_ context.Context, cc plugin.ControlContext) (*time.Time, error) {
	if cc.Attempts >= p.MaxAttempts {
		return nil, nil
	}
	delay := p.BaseDelay << uint(cc.Attempts)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	retryAt := p.Clock().Add(delay)
	return &retryAt, nil
}

func (p *BackoffRetryPolicy) OnCompletionCall(context.Context, plugin.ControlContext) error {
	return nil
}

var _ plugin.ControlPlugin = (*BackoffRetryPolicy)(nil)
