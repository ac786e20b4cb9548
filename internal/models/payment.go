package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType identifies the kind of gateway operation requested for a payment.
type TransactionType string

const (
	TransactionAuthorize TransactionType = "AUTHORIZE"
	TransactionCapture   TransactionType = "CAPTURE"
	TransactionPurchase  TransactionType = "PURCHASE"
	TransactionVoid      TransactionType = "VOID"
	TransactionCredit    TransactionType = "CREDIT"
	TransactionRefund    TransactionType = "REFUND"
)

// ParseTransactionType validates a caller-supplied transaction type string.
func ParseTransactionType(s string) (TransactionType, error) {
	switch t := TransactionType(s); t {
	case TransactionAuthorize, TransactionCapture, TransactionPurchase,
		TransactionVoid, TransactionCredit, TransactionRefund:
		return t, nil
	}
	return "", fmt.Errorf("unknown transaction type %q", s)
}

// RequiresExistingPayment reports whether this transaction type can only be
// attached to a payment created by an earlier transaction.
func (t TransactionType) RequiresExistingPayment() bool {
	switch t {
	case TransactionCapture, TransactionVoid, TransactionRefund:
		return true
	}
	return false
}

// PaymentStatus is the persisted status of one transaction.
type PaymentStatus string

const (
	StatusUnknown               PaymentStatus = "UNKNOWN"
	StatusPending               PaymentStatus = "PENDING"
	StatusSuccess               PaymentStatus = "SUCCESS"
	StatusPaymentFailureAborted PaymentStatus = "PAYMENT_FAILURE_ABORTED"
	StatusPluginFailureAborted  PaymentStatus = "PLUGIN_FAILURE_ABORTED"
)

// Payment is the aggregate for one logical charge/credit relationship with an
// account. It owns many transactions and carries exactly one current state name.
type Payment struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	PaymentMethodID uuid.UUID
	ExternalKey     string
	PaymentNumber   int64
	StateName       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Transaction is one attempted operation against a payment. The external key is
// the caller-supplied idempotency token, unique within the payment.
type Transaction struct {
	ID                uuid.UUID
	PaymentID         uuid.UUID
	ExternalKey       string
	Type              TransactionType
	Amount            decimal.Decimal
	Currency          string
	ProcessedAmount   decimal.Decimal
	ProcessedCurrency string
	Status            PaymentStatus
	GatewayErrorCode  string
	GatewayErrorMsg   string
	EffectiveDate     time.Time
}

// Account is the slice of account data the automaton needs: identity for the
// lock key and a default payment method fallback.
type Account struct {
	ID                     uuid.UUID
	ExternalKey            string
	DefaultPaymentMethodID uuid.UUID
}

// PluginProperty is an opaque key/value pair forwarded to gateway and control plugins.
type PluginProperty struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// MergeProperties overlays adjustments onto base, with adjustment values
// replacing base values for the same key. Order of first appearance is kept.
func MergeProperties(base, adjustments []PluginProperty) []PluginProperty {
	if len(adjustments) == 0 {
		return base
	}
	merged := make([]PluginProperty, 0, len(base)+len(adjustments))
	seen := make(map[string]int, len(base))
	for _, p := range base {
		seen[p.Key] = len(merged)
		merged = append(merged, p)
	}
	for _, p := range adjustments {
		if i, ok := seen[p.Key]; ok {
			merged[i] = p
			continue
		}
		seen[p.Key] = len(merged)
		merged = append(merged, p)
	}
	return merged
}
