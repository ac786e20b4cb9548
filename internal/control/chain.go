// Package control runs the ordered control-plugin chain around a gateway
// operation: prior-call veto/adjustment, on-failure retry scheduling and
// on-completion side effects.
package control

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openbilling/payment-core/internal/models"
	"github.com/openbilling/payment-core/internal/plugin"
)

// Chain consults the named control plugins in order. An unregistered name is
// logged and skipped: control policy is additive, its absence is not a hard
// dependency.
type Chain struct {
	registry *plugin.Registry
	names    []string
	logger   *zap.Logger
}

func NewChain(registry *plugin.Registry, names []string, logger *zap.Logger) *Chain {
	return &Chain{registry: registry, names: names, logger: logger}
}

// PriorCall invokes each plugin before the gateway call. Adjustments are
// cumulative: each plugin sees the context as adjusted by its predecessors,
// and the last non-nil adjustment for a field wins. The first abort (or plugin
// error) stops the chain; the gateway must not be called in that case.
func (c *Chain) PriorCall(ctx context.Context, cc plugin.ControlContext) (plugin.ControlContext, bool, error) {
	for _, name := range c.names {
		p, ok := c.registry.Control(name)
		if !ok {
			c.logger.Warn("control plugin not registered, skipping",
				zap.String("plugin", name),
				zap.String("transaction_external_key", cc.TransactionExternalKey),
			)
			continue
		}

		result, err := p.PriorCall(ctx, cc)
		if err != nil {
			c.logger.Warn("control plugin aborted operation",
				zap.String("plugin", name),
				zap.String("transaction_external_key", cc.TransactionExternalKey),
				zap.Error(err),
			)
			return cc, true, err
		}
		if result == nil {
			continue
		}
		if result.Aborted {
			c.logger.Info("control plugin vetoed operation",
				zap.String("plugin", name),
				zap.String("transaction_external_key", cc.TransactionExternalKey),
			)
			return cc, true, nil
		}

		if result.AdjustedAmount != nil {
			cc.Amount = *result.AdjustedAmount
		}
		if result.AdjustedCurrency != nil {
			cc.Currency = *result.AdjustedCurrency
		}
		if result.AdjustedPaymentMethodID != nil {
			cc.PaymentMethodID = *result.AdjustedPaymentMethodID
		}
		if len(result.AdjustedProperties) > 0 {
			cc.Properties = models.MergeProperties(cc.Properties, result.AdjustedProperties)
		}
	}
	return cc, false, nil
}

// OnFailure asks the plugins for a retry date after a failed gateway call. The
// first date returned wins; plugin errors are logged and the chain continues.
// A nil result means the failure is terminal.
func (c *Chain) OnFailure(ctx context.Context, cc plugin.ControlContext) *time.Time {
	for _, name := range c.names {
		p, ok := c.registry.Control(name)
		if !ok {
			c.logger.Warn("control plugin not registered, skipping",
				zap.String("plugin", name),
			)
			continue
		}
		retryAt, err := p.OnFailureCall(ctx, cc)
		if err != nil {
			c.logger.Warn("control plugin onFailure failed",
				zap.String("plugin", name),
				zap.Error(err),
			)
			continue
		}
		if retryAt != nil {
			return retryAt
		}
	}
	return nil
}

// OnCompletion runs cleanup hooks after the operation, whatever its outcome.
// Hook failures are logged, never propagated.
func (c *Chain) OnCompletion(ctx context.Context, cc plugin.ControlContext) {
	for _, name := range c.names {
		p, ok := c.registry.Control(name)
		if !ok {
			continue
		}
		if err := p.OnCompletionCall(ctx, cc); err != nil {
			c.logger.Warn("control plugin onCompletion failed",
				zap.String("plugin", name),
				zap.Error(err),
			)
		}
	}
}
