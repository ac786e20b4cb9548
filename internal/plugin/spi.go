// Package plugin defines the gateway and control plugin SPIs and the injected
// registry resolving plugin names at runtime.
package plugin

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openbilling/payment-core/internal/models"
)

// Status is the gateway's view of one call.
type Status string

const (
	StatusProcessed Status = "PROCESSED"
	StatusPending   Status = "PENDING"
	StatusError     Status = "ERROR"
	StatusUndefined Status = "UNDEFINED"
)

// GatewayResult is what a gateway plugin reports back for one call. Processed
// amount and currency may differ from the requested ones.
type GatewayResult struct {
	Status           Status
	Amount           decimal.Decimal
	Currency         string
	GatewayErrorCode string
	GatewayError     string
}

// CallRequest carries everything a gateway plugin needs for one call.
type CallRequest struct {
	AccountID       uuid.UUID
	PaymentID       uuid.UUID
	TransactionID   uuid.UUID
	PaymentMethodID uuid.UUID
	Amount          decimal.Decimal
	Currency        string
	Properties      []models.PluginProperty
}

// GatewayPlugin is the adapter performing the actual call to a payment
// processor, one operation per transaction type.
type GatewayPlugin interface {
	AuthorizePayment(ctx context.Context, req CallRequest) (*GatewayResult, error)
	CapturePayment(ctx context.Context, req CallRequest) (*GatewayResult, error)
	PurchasePayment(ctx context.Context, req CallRequest) (*GatewayResult, error)
	VoidPayment(ctx context.Context, req CallRequest) (*GatewayResult, error)
	CreditPayment(ctx context.Context, req CallRequest) (*GatewayResult, error)
	RefundPayment(ctx context.Context, req CallRequest) (*GatewayResult, error)
}

// ControlContext is the read-only view of the in-flight operation handed to
// control plugins. Adjustments come back in PriorResult; the chain threads an
// updated copy to each subsequent plugin.
type ControlContext struct {
	AccountID              uuid.UUID
	PaymentID              uuid.UUID
	PaymentExternalKey     string
	TransactionExternalKey string
	TransactionType        models.TransactionType
	Amount                 decimal.Decimal
	Currency               string
	PaymentMethodID        uuid.UUID
	Properties             []models.PluginProperty
	Attempts               int
}

// PriorResult is a control plugin's verdict before the gateway call: veto the
// operation or adjust its inputs. Nil adjustment fields leave the current
// value untouched.
type PriorResult struct {
	Aborted                 bool
	AdjustedAmount          *decimal.Decimal
	AdjustedCurrency        *string
	AdjustedPaymentMethodID *uuid.UUID
	AdjustedProperties      []models.PluginProperty
}

// ControlPlugin is a policy hook around the gateway call: veto or adjust
// before, compute a retry date on failure, run side effects on completion.
type ControlPlugin interface {
	PriorCall(ctx context.Context, cc ControlContext) (*PriorResult, error)

	// OnFailureCall returns the next retry time for a failed operation, or nil
	// when the failure is terminal.
	OnFailureCall(ctx context.Context, cc ControlContext) (*time.Time, error)

	OnCompletionCall(ctx context.Context, cc ControlContext) error
}
