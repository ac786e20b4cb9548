package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openbilling/payment-core/internal/plugin"
)

func TestBackoffRetryPolicy_Schedule(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := &BackoffRetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Minute,
		MaxDelay:    3 * time.Minute,
		Clock:       func() time.Time { return now },
	}

	tests := []struct {
		attempts int
		want     *time.Duration
	}{
		{attempts: 0, want: durationPtr(time.Minute)},
		{attempts: 1, want: durationPtr(2 * time.Minute)},
		{attempts: 2, want: durationPtr(3 * time.Minute)}, // capped at MaxDelay
		{attempts: 3, want: nil},                          // past the limit, terminal
		{attempts: 10, want: nil},
	}
	for _, tt := range tests {
		got, err := policy.OnFailureCall(context.Background(), plugin.ControlContext{Attempts: tt.attempts})
		require.NoError(t, err)
		if tt.want == nil {
			require.Nil(t, got, "attempts=%d", tt.attempts)
			continue
		}
		require.NotNil(t, got, "attempts=%d", tt.attempts)
		require.Equal(t, now.Add(*tt.want), *got)
	}
}

func TestBackoffRetryPolicy_OverflowFallsBackToMaxDelay(t *testing.T) {
	t.Parallel()
	now := time.Now()
	policy := &BackoffRetryPolicy{
		MaxAttempts: 100,
		BaseDelay:   time.Minute,
		MaxDelay:    24 * time.Hour,
		Clock:       func() time.Time { return now },
	}

	// A shift this large overflows; the cap must still hold.
	got, err := policy.OnFailureCall(context.Background(), plugin.ControlContext{Attempts: 70})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, now.Add(24*time.Hour), *got)
}

func TestBackoffRetryPolicy_PassiveHooks(t *testing.T) {
	t.Parallel()
	policy := NewBackoffRetryPolicy(8, time.Minute, 24*time.Hour)

	res, err := policy.PriorCall(context.Background(), plugin.ControlContext{})
	require.NoError(t, err)
	require.Nil(t, res)
	require.NoError(t, policy.OnCompletionCall(context.Background(), plugin.ControlContext{}))
}

func durationPtr(d time.Duration) *time.Duration { return &d }
