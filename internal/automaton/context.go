package automaton

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openbilling/payment-core/internal/models"
	"github.com/openbilling/payment-core/internal/plugin"
)

// TransactionContext is the per-run scratch value threaded through the
// leaving/operation/entering callbacks. Each step derives an updated copy
// rather than mutating shared fields, so the data flow between callbacks stays
// explicit.
type TransactionContext struct {
	Account         *models.Account
	Payment         *models.Payment
	Transaction     *models.Transaction
	Amount          decimal.Decimal
	Currency        string
	PaymentMethodID uuid.UUID
	Properties      []models.PluginProperty
	GatewayResult   *plugin.GatewayResult
	RetryAt         *time.Time
	Attempts        int
	NewPayment      bool
}

func (c TransactionContext) WithRecords(payment *models.Payment, transaction *models.Transaction) TransactionContext {
	c.Payment = payment
	c.Transaction = transaction
	return c
}

// WithAdjustments folds the control chain's cumulative adjustments back into
// the context before the gateway call is dispatched.
func (c TransactionContext) WithAdjustments(cc plugin.ControlContext) TransactionContext {
	c.Amount = cc.Amount
	c.Currency = cc.Currency
	c.PaymentMethodID = cc.PaymentMethodID
	c.Properties = cc.Properties
	return c
}

func (c TransactionContext) WithGatewayResult(result *plugin.GatewayResult) TransactionContext {
	c.GatewayResult = result
	return c
}

func (c TransactionContext) WithRetryAt(retryAt *time.Time) TransactionContext {
	c.RetryAt = retryAt
	return c
}

// controlContext projects the transaction context into the read-only view
// handed to control plugins.
func (c TransactionContext) controlContext(transactionType models.TransactionType, transactionExternalKey string) plugin.ControlContext {
	cc := plugin.ControlContext{
		AccountID:              c.Account.ID,
		TransactionExternalKey: transactionExternalKey,
		TransactionType:        transactionType,
		Amount:                 c.Amount,
		Currency:               c.Currency,
		PaymentMethodID:        c.PaymentMethodID,
		Properties:             c.Properties,
		Attempts:               c.Attempts,
	}
	if c.Payment != nil {
		cc.PaymentID = c.Payment.ID
		cc.PaymentExternalKey = c.Payment.ExternalKey
	}
	return cc
}
