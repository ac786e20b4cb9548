package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openbilling/payment-core/internal/models"
	"github.com/openbilling/payment-core/internal/plugin"
)

type stubControl struct {
	prior        func(cc plugin.ControlContext) (*plugin.PriorResult, error)
	onFailure    func(cc plugin.ControlContext) (*time.Time, error)
	onCompletion func(cc plugin.ControlContext) error
	completions  int
}

func (s *stubControl) PriorCall(_ context.Context, cc plugin.ControlContext) (*plugin.PriorResult, error) {
	if s.prior == nil {
		return nil, nil
	}
	return s.prior(cc)
}

func (s *stubControl) OnFailureCall(_ context.Context, cc plugin.ControlContext) (*time.Time, error) {
	if s.onFailure == nil {
		return nil, nil
	}
	return s.onFailure(cc)
}

func (s *stubControl) OnCompletionCall(_ context.Context, cc plugin.ControlContext) error {
	s.completions++
	if s.onCompletion == nil {
		return nil
	}
	return s.onCompletion(cc)
}

func baseContext() plugin.ControlContext {
	return plugin.ControlContext{
		AccountID:       uuid.New(),
		Amount:          decimal.NewFromInt(10),
		Currency:        "USD",
		PaymentMethodID: uuid.New(),
		Properties:      []models.PluginProperty{{Key: "route", Value: "primary"}},
	}
}

func TestChain_PriorCall_AdjustmentsAreCumulativeAndOrdered(t *testing.T) {
	t.Parallel()
	registry := plugin.NewRegistry()

	firstAmount := decimal.NewFromInt(8)
	secondAmount := decimal.NewFromInt(5)
	currency := "EUR"

	var secondSaw decimal.Decimal
	registry.RegisterControl("first", &stubControl{
		prior: func(cc plugin.ControlContext) (*plugin.PriorResult, error) {
			return &plugin.PriorResult{
				AdjustedAmount:   &firstAmount,
				AdjustedCurrency: &currency,
				AdjustedProperties: []models.PluginProperty{
					{Key: "route", Value: "secondary"},
					{Key: "attempt", Value: "1"},
				},
			}, nil
		},
	})
	registry.RegisterControl("second", &stubControl{
		prior: func(cc plugin.ControlContext) (*plugin.PriorResult, error) {
			secondSaw = cc.Amount
			return &plugin.PriorResult{AdjustedAmount: &secondAmount}, nil
		},
	})

	chain := NewChain(registry, []string{"first", "second"}, zap.NewNop())
	cc, aborted, err := chain.PriorCall(context.Background(), baseContext())
	require.NoError(t, err)
	require.False(t, aborted)

	// Each plugin sees its predecessors' adjustments; the last one wins.
	require.True(t, secondSaw.Equal(firstAmount))
	require.True(t, cc.Amount.Equal(secondAmount))
	require.Equal(t, "EUR", cc.Currency)
	require.Equal(t, []models.PluginProperty{
		{Key: "route", Value: "secondary"},
		{Key: "attempt", Value: "1"},
	}, cc.Properties)
}

func TestChain_PriorCall_AbortShortCircuits(t *testing.T) {
	t.Parallel()
	registry := plugin.NewRegistry()

	var laterCalled bool
	registry.RegisterControl("veto", &stubControl{
		prior: func(plugin.ControlContext) (*plugin.PriorResult, error) {
			return &plugin.PriorResult{Aborted: true}, nil
		},
	})
	registry.RegisterControl("later", &stubControl{
		prior: func(plugin.ControlContext) (*plugin.PriorResult, error) {
			laterCalled = true
			return nil, nil
		},
	})

	chain := NewChain(registry, []string{"veto", "later"}, zap.NewNop())
	_, aborted, err := chain.PriorCall(context.Background(), baseContext())
	require.NoError(t, err)
	require.True(t, aborted)
	require.False(t, laterCalled)
}

func TestChain_PriorCall_PluginErrorIsAbort(t *testing.T) {
	t.Parallel()
	registry := plugin.NewRegistry()
	boom := errors.New("policy exploded")
	registry.RegisterControl("broken", &stubControl{
		prior: func(plugin.ControlContext) (*plugin.PriorResult, error) { return nil, boom },
	})

	chain := NewChain(registry, []string{"broken"}, zap.NewNop())
	_, aborted, err := chain.PriorCall(context.Background(), baseContext())
	require.True(t, aborted)
	require.ErrorIs(t, err, boom)
}

func TestChain_PriorCall_UnregisteredPluginSkipped(t *testing.T) {
	t.Parallel()
	registry := plugin.NewRegistry()
	amount := decimal.NewFromInt(3)
	registry.RegisterControl("present", &stubControl{
		prior: func(plugin.ControlContext) (*plugin.PriorResult, error) {
			return &plugin.PriorResult{AdjustedAmount: &amount}, nil
		},
	})

	chain := NewChain(registry, []string{"ghost", "present"}, zap.NewNop())
	cc, aborted, err := chain.PriorCall(context.Background(), baseContext())
	require.NoError(t, err)
	require.False(t, aborted)
	require.True(t, cc.Amount.Equal(amount))
}

func TestChain_OnFailure_FirstRetryDateWins(t *testing.T) {
	t.Parallel()
	registry := plugin.NewRegistry()

	first := time.Now().Add(time.Hour)
	second := time.Now().Add(2 * time.Hour)
	registry.RegisterControl("erroring", &stubControl{
		onFailure: func(plugin.ControlContext) (*time.Time, error) { return nil, errors.New("no opinion") },
	})
	registry.RegisterControl("scheduler", &stubControl{
		onFailure: func(plugin.ControlContext) (*time.Time, error) { return &first, nil },
	})
	registry.RegisterControl("late", &stubControl{
		onFailure: func(plugin.ControlContext) (*time.Time, error) { return &second, nil },
	})

	chain := NewChain(registry, []string{"erroring", "scheduler", "late"}, zap.NewNop())
	retryAt := chain.OnFailure(context.Background(), baseContext())
	require.NotNil(t, retryAt)
	require.Equal(t, first, *retryAt)
}

func TestChain_OnFailure_NoDateMeansTerminal(t *testing.T) {
	t.Parallel()
	registry := plugin.NewRegistry()
	registry.RegisterControl("policy", &stubControl{})

	chain := NewChain(registry, []string{"policy"}, zap.NewNop())
	require.Nil(t, chain.OnFailure(context.Background(), baseContext()))
}

func TestChain_OnCompletion_ErrorsSwallowed(t *testing.T) {
	t.Parallel()
	registry := plugin.NewRegistry()
	failing := &stubControl{
		onCompletion: func(plugin.ControlContext) error { return errors.New("cleanup failed") },
	}
	tail := &stubControl{}
	registry.RegisterControl("failing", failing)
	registry.RegisterControl("tail", tail)

	chain := NewChain(registry, []string{"failing", "tail"}, zap.NewNop())
	chain.OnCompletion(context.Background(), baseContext())
	require.Equal(t, 1, failing.completions)
	require.Equal(t, 1, tail.completions)
}
