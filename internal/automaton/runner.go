// Package automaton drives one payment transaction through its state machine:
// it resolves the machine, state and operation for the requested transaction
// type, serializes the run under the account lock, consults the control-plugin
// chain, dispatches the gateway call under a deadline and persists the
// resulting transition.
package automaton

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openbilling/payment-core/internal/control"
	"github.com/openbilling/payment-core/internal/dispatcher"
	"github.com/openbilling/payment-core/internal/events"
	"github.com/openbilling/payment-core/internal/interfaces"
	"github.com/openbilling/payment-core/internal/lock"
	"github.com/openbilling/payment-core/internal/metrics"
	"github.com/openbilling/payment-core/internal/models"
	"github.com/openbilling/payment-core/internal/plugin"
	"github.com/openbilling/payment-core/internal/statemachine"
)

// initialStates fixes, per transaction type, the machine and state a brand new
// payment starts from. Capture, void and refund attach to an existing payment
// and have no entry here.
var initialStates = map[models.TransactionType]struct{ Machine, State string }{
	models.TransactionAuthorize: {Machine: "AUTH", State: "AUTH_INIT"},
	models.TransactionPurchase:  {Machine: "PURCHASE", State: "PURCHASE_INIT"},
	models.TransactionCredit:    {Machine: "CREDIT", State: "CREDIT_INIT"},
}

var operationNames = map[models.TransactionType]string{
	models.TransactionAuthorize: "OP_AUTHORIZE",
	models.TransactionCapture:   "OP_CAPTURE",
	models.TransactionPurchase:  "OP_PURCHASE",
	models.TransactionVoid:      "OP_VOID",
	models.TransactionCredit:    "OP_CREDIT",
	models.TransactionRefund:    "OP_REFUND",
}

// RunParams is one requested transaction.
type RunParams struct {
	TransactionType        models.TransactionType
	Account                *models.Account
	PaymentID              uuid.UUID // uuid.Nil for a new payment
	PaymentExternalKey     string
	TransactionExternalKey string
	Amount                 decimal.Decimal
	Currency               string
	PaymentMethodID        uuid.UUID // uuid.Nil to use the account default
	ShouldLockAccount      bool
	Properties             []models.PluginProperty
	GatewayPlugin          string // empty to use the runner default
}

// RunResult reports the completed run. A failed gateway call is still a
// completed run: callers inspect Status and RetryAt instead of catching
// errors.
type RunResult struct {
	PaymentID         uuid.UUID
	TransactionID     uuid.UUID
	StateName         string
	Status            models.PaymentStatus
	ProcessedAmount   decimal.Decimal
	ProcessedCurrency string
	GatewayErrorCode  string
	GatewayErrorMsg   string
	RetryAt           *time.Time
}

type Runner struct {
	config         *statemachine.Config
	store          interfaces.PaymentStore
	locker         interfaces.AccountLocker
	registry       *plugin.Registry
	pool           *dispatcher.Pool
	chain          *control.Chain
	publisher      events.Publisher
	metrics        *metrics.Metrics
	logger         *zap.Logger
	defaultGateway string
	clock          func() time.Time
}

func NewRunner(
	cfg *statemachine.Config,
	store interfaces.PaymentStore,
	locker interfaces.AccountLocker,
	registry *plugin.Registry,
	pool *dispatcher.Pool,
	chain *control.Chain,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	defaultGateway string,
) (*Runner, error) {
	// The initial-state table is part of the deployment contract: fail fast if
	// the loaded definition cannot serve it.
	for txType, entry := range initialStates {
		machine, err := cfg.StateMachine(entry.Machine)
		if err != nil {
			return nil, models.WrapInternal(err)
		}
		if _, err := machine.State(entry.State); err != nil {
			return nil, models.WrapInternal(err)
		}
		if _, err := machine.Operation(operationNames[txType]); err != nil {
			return nil, models.WrapInternal(err)
		}
	}
	return &Runner{
		config:         cfg,
		store:          store,
		locker:         locker,
		registry:       registry,
		pool:           pool,
		chain:          chain,
		publisher:      publisher,
		metrics:        m,
		logger:         logger,
		defaultGateway: defaultGateway,
		clock:          time.Now,
	}, nil
}

// WithClock overrides the runner clock, for tests.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// Run executes one transaction to completion and returns the payment id along
// with the recorded outcome. Domain failures come back as *models.PaymentError;
// everything else is wrapped as PAYMENT_INTERNAL_ERROR.
func (r *Runner) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	if params.Account == nil {
		return nil, models.NewPaymentError(models.ErrCodeInvalidParameter, "account is required")
	}
	if _, err := models.ParseTransactionType(string(params.TransactionType)); err != nil {
		return nil, models.NewPaymentError(models.ErrCodeInvalidParameter, "%v", err)
	}

	gatewayName := params.GatewayPlugin
	if gatewayName == "" {
		gatewayName = r.defaultGateway
	}
	gateway, ok := r.registry.Gateway(gatewayName)
	if !ok {
		return nil, models.NewPaymentError(models.ErrCodePluginNotFound, "gateway plugin %q is not registered", gatewayName)
	}

	payment, err := r.resolvePayment(ctx, &params)
	if err != nil {
		return nil, err
	}

	// Idempotency boundary: a known (payment, transaction key) pair replays the
	// recorded result instead of creating a duplicate transaction.
	if payment != nil && params.TransactionExternalKey != "" {
		existing, err := r.store.GetTransactionByExternalKey(ctx, payment.ID, params.TransactionExternalKey)
		if err == nil {
			r.logger.Info("replaying idempotent transaction",
				zap.String("payment_id", payment.ID.String()),
				zap.String("transaction_external_key", params.TransactionExternalKey),
			)
			return resultFromTransaction(payment, existing), nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.WrapInternal(err)
		}
	}

	machine, stateName, paymentMethodID, err := r.resolveMachine(params, payment)
	if err != nil {
		return nil, err
	}

	state, err := machine.State(stateName)
	if err != nil {
		return nil, models.WrapInternal(err)
	}
	operation, err := machine.Operation(operationNames[params.TransactionType])
	if err != nil {
		return nil, models.WrapInternal(err)
	}

	attempts, err := r.countFailedAttempts(ctx, payment, params.TransactionType)
	if err != nil {
		return nil, err
	}

	run := &operationRun{
		runner:  r,
		params:  params,
		gateway: gateway,
		txn: TransactionContext{
			Account:         params.Account,
			Payment:         payment,
			Amount:          params.Amount,
			Currency:        params.Currency,
			PaymentMethodID: paymentMethodID,
			Properties:      params.Properties,
			Attempts:        attempts,
			NewPayment:      payment == nil,
		},
	}

	var replayed *models.Transaction
	execute := func(ctx context.Context) error {
		// A concurrent duplicate can commit between the unlocked replay check
		// and lock acquisition, so the key is checked again under the lock
		// before any row is written.
		if payment != nil && params.TransactionExternalKey != "" {
			existing, err := r.store.GetTransactionByExternalKey(ctx, payment.ID, params.TransactionExternalKey)
			if err == nil {
				replayed = existing
				return nil
			}
			if !errors.Is(err, interfaces.ErrNotFound) {
				return err
			}
		}
		outcome, err := state.RunOperation(ctx, operation, run, run, run)
		if err != nil {
			return err
		}
		run.outcome = outcome
		return nil
	}

	if params.ShouldLockAccount {
		err = r.locker.WithAccountLock(ctx, params.Account.ExternalKey, execute)
	} else {
		err = execute(ctx)
	}
	if err != nil {
		if errors.Is(err, lock.ErrLockNotAcquired) {
			r.metrics.LockFailuresTotal.Inc()
			return nil, models.NewPaymentError(models.ErrCodeLockFailed, "account %s: %v", params.Account.ExternalKey, err)
		}
		// Covers MissingEntry transition lookups: a configuration defect, never
		// retried.
		return nil, models.WrapInternal(err)
	}

	if replayed != nil {
		fresh, err := r.store.GetPayment(ctx, payment.ID)
		if err != nil {
			return nil, models.WrapInternal(err)
		}
		r.logger.Info("replaying idempotent transaction",
			zap.String("payment_id", payment.ID.String()),
			zap.String("transaction_external_key", params.TransactionExternalKey),
		)
		return resultFromTransaction(fresh, replayed), nil
	}

	r.metrics.RunsTotal.WithLabelValues(string(params.TransactionType), string(run.outcome.Result())).Inc()
	result := resultFromTransaction(run.txn.Payment, run.txn.Transaction)
	result.RetryAt = run.txn.RetryAt
	return result, nil
}

// resolvePayment loads the existing payment for the request, or returns nil
// when this run creates a new one.
func (r *Runner) resolvePayment(ctx context.Context, params *RunParams) (*models.Payment, error) {
	if params.PaymentID != uuid.Nil {
		payment, err := r.store.GetPayment(ctx, params.PaymentID)
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.NewPaymentError(models.ErrCodeNoSuchPayment, "payment %s", params.PaymentID)
		}
		if err != nil {
			return nil, models.WrapInternal(err)
		}
		return payment, nil
	}

	if params.PaymentExternalKey != "" {
		payment, err := r.store.GetPaymentByExternalKey(ctx, params.PaymentExternalKey)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.WrapInternal(err)
		}
	}

	if params.TransactionType.RequiresExistingPayment() {
		return nil, models.NewPaymentError(models.ErrCodeNoSuchPayment,
			"%s requires an existing payment", params.TransactionType)
	}
	return nil, nil
}

// resolveMachine determines the machine and current state driving this run,
// and the effective payment method.
func (r *Runner) resolveMachine(params RunParams, payment *models.Payment) (*statemachine.StateMachine, string, uuid.UUID, error) {
	if payment == nil {
		entry := initialStates[params.TransactionType]
		machine, err := r.config.StateMachine(entry.Machine)
		if err != nil {
			return nil, "", uuid.Nil, models.WrapInternal(err)
		}

		paymentMethodID := params.PaymentMethodID
		if paymentMethodID == uuid.Nil {
			paymentMethodID = params.Account.DefaultPaymentMethodID
		}
		if paymentMethodID == uuid.Nil {
			return nil, "", uuid.Nil, models.NewPaymentError(models.ErrCodeNoDefaultPaymentMethod,
				"account %s has no default payment method", params.Account.ID)
		}
		return machine, entry.State, paymentMethodID, nil
	}

	machine, err := r.config.MachineForState(payment.StateName)
	if err != nil {
		return nil, "", uuid.Nil, models.WrapInternal(err)
	}
	if params.PaymentMethodID != uuid.Nil && params.PaymentMethodID != payment.PaymentMethodID {
		return nil, "", uuid.Nil, models.NewPaymentError(models.ErrCodeInvalidParameter,
			"payment method %s does not match payment %s", params.PaymentMethodID, payment.ID)
	}
	return machine, payment.StateName, payment.PaymentMethodID, nil
}

// countFailedAttempts feeds the control plugins' retry bookkeeping.
func (r *Runner) countFailedAttempts(ctx context.Context, payment *models.Payment, txType models.TransactionType) (int, error) {
	if payment == nil {
		return 0, nil
	}
	transactions, err := r.store.GetTransactionsForPayment(ctx, payment.ID)
	if err != nil {
		return 0, models.WrapInternal(err)
	}
	attempts := 0
	for _, t := range transactions {
		if t.Type != txType {
			continue
		}
		if t.Status == models.StatusPaymentFailureAborted || t.Status == models.StatusPluginFailureAborted {
			attempts++
		}
	}
	return attempts, nil
}

func resultFromTransaction(payment *models.Payment, t *models.Transaction) *RunResult {
	result := &RunResult{
		PaymentID:         payment.ID,
		TransactionID:     t.ID,
		StateName:         payment.StateName,
		Status:            t.Status,
		ProcessedAmount:   t.ProcessedAmount,
		ProcessedCurrency: t.ProcessedCurrency,
		GatewayErrorCode:  t.GatewayErrorCode,
		GatewayErrorMsg:   t.GatewayErrorMsg,
	}
	return result
}
