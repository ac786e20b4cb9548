package interfaces

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openbilling/payment-core/internal/models"
)

// ErrNotFound is returned by store lookups when no row matches.
var ErrNotFound = errors.New("not found")

// CompletionUpdate carries everything persisted atomically when an operation
// completes: the payment's new state name and the transaction's final status.
type CompletionUpdate struct {
	PaymentID         uuid.UUID
	StateName         string
	TransactionID     uuid.UUID
	Status            models.PaymentStatus
	ProcessedAmount   decimal.Decimal
	ProcessedCurrency string
	GatewayErrorCode  string
	GatewayErrorMsg   string
}

// PaymentStore is the persistence contract for payments and their transactions.
type PaymentStore interface {
	// InsertPaymentWithTransaction creates a payment and its first transaction,
	// assigning the per-account payment number.
	InsertPaymentWithTransaction(ctx context.Context, payment *models.Payment, transaction *models.Transaction) error

	// UpdatePaymentWithNewTransaction attaches a transaction to an existing payment.
	UpdatePaymentWithNewTransaction(ctx context.Context, paymentID uuid.UUID, transaction *models.Transaction) error

	// UpdateOnCompletion records the terminal outcome of an operation: the
	// payment's new state name and the transaction status, atomically.
	UpdateOnCompletion(ctx context.Context, update CompletionUpdate) error

	GetPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	GetPaymentByExternalKey(ctx context.Context, externalKey string) (*models.Payment, error)
	GetTransactionByExternalKey(ctx context.Context, paymentID uuid.UUID, externalKey string) (*models.Transaction, error)
	GetTransactionsForPayment(ctx context.Context, paymentID uuid.UUID) ([]*models.Transaction, error)
}

// AccountLocker serializes automaton runs per account. Acquisition failure is
// fatal for the current call; the lock is never silently bypassed.
type AccountLocker interface {
	WithAccountLock(ctx context.Context, accountKey string, fn func(ctx context.Context) error) error
}
