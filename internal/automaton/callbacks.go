package automaton

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openbilling/payment-core/internal/dispatcher"
	"github.com/openbilling/payment-core/internal/events"
	"github.com/openbilling/payment-core/internal/interfaces"
	"github.com/openbilling/payment-core/internal/models"
	"github.com/openbilling/payment-core/internal/plugin"
	"github.com/openbilling/payment-core/internal/statemachine"
)

// operationRun carries one run through the three state-machine callbacks. The
// transaction context is replaced wholesale at each step; nothing else is
// shared between callbacks.
type operationRun struct {
	runner  *Runner
	params  RunParams
	gateway plugin.GatewayPlugin
	txn     TransactionContext
	outcome statemachine.Outcome
}

// LeavingState materializes the payment (when new) and the transaction row in
// status UNKNOWN before the gateway is called. Missing external keys default
// to fresh uuids, which also fixes the idempotency key for this attempt.
func (o *operationRun) LeavingState(ctx context.Context, state *statemachine.State) error {
	transactionKey := o.params.TransactionExternalKey
	if transactionKey == "" {
		transactionKey = uuid.NewString()
	}

	transaction := &models.Transaction{
		ID:            uuid.New(),
		ExternalKey:   transactionKey,
		Type:          o.params.TransactionType,
		Amount:        o.txn.Amount,
		Currency:      o.txn.Currency,
		Status:        models.StatusUnknown,
		EffectiveDate: o.runner.clock().UTC(),
	}

	if o.txn.NewPayment {
		paymentKey := o.params.PaymentExternalKey
		if paymentKey == "" {
			paymentKey = uuid.NewString()
		}
		payment := &models.Payment{
			ID:              uuid.New(),
			AccountID:       o.txn.Account.ID,
			PaymentMethodID: o.txn.PaymentMethodID,
			ExternalKey:     paymentKey,
			StateName:       state.Name(),
		}
		transaction.PaymentID = payment.ID
		if err := o.runner.store.InsertPaymentWithTransaction(ctx, payment, transaction); err != nil {
			return models.WrapInternal(err)
		}
		o.txn = o.txn.WithRecords(payment, transaction)
		return nil
	}

	transaction.PaymentID = o.txn.Payment.ID
	if err := o.runner.store.UpdatePaymentWithNewTransaction(ctx, o.txn.Payment.ID, transaction); err != nil {
		return models.WrapInternal(err)
	}
	o.txn = o.txn.WithRecords(o.txn.Payment, transaction)
	return nil
}

// DoOperation wraps the gateway call with the control-plugin chain: prior-call
// veto/adjustments, the dispatched call itself, failure retry scheduling and
// the completion hook.
func (o *operationRun) DoOperation(ctx context.Context) statemachine.Outcome {
	cc := o.txn.controlContext(o.params.TransactionType, o.txn.Transaction.ExternalKey)

	// Completion hooks run whatever the outcome, aborts included.
	defer func() { o.runner.chain.OnCompletion(ctx, cc) }()

	adjusted, aborted, err := o.runner.chain.PriorCall(ctx, cc)
	if aborted {
		o.runner.metrics.AbortsTotal.Inc()
		if err == nil {
			err = errors.New("operation vetoed by control plugin")
		}
		return statemachine.TerminalOutcome(err)
	}
	cc = adjusted
	o.txn = o.txn.WithAdjustments(cc)

	started := o.runner.clock()
	result, err := dispatcher.Dispatch(ctx, o.runner.pool, func(ctx context.Context) (*plugin.GatewayResult, error) {
		return o.callGateway(ctx)
	})
	o.runner.metrics.GatewayCallSeconds.Observe(o.runner.clock().Sub(started).Seconds())

	if errors.Is(err, dispatcher.ErrTimeout) {
		o.runner.metrics.TimeoutsTotal.Inc()
		o.runner.logger.Warn("gateway call timed out, outcome indeterminate",
			zap.String("payment_id", o.txn.Payment.ID.String()),
			zap.String("transaction_type", string(o.params.TransactionType)),
		)
		return statemachine.PendingOutcome()
	}
	if err != nil {
		return o.failureOutcome(ctx, cc, err)
	}

	o.txn = o.txn.WithGatewayResult(result)
	switch result.Status {
	case plugin.StatusProcessed:
		return statemachine.SuccessOutcome()
	case plugin.StatusPending:
		return statemachine.PendingOutcome()
	default:
		return o.failureOutcome(ctx, cc, fmt.Errorf("gateway declined: %s %s", result.GatewayErrorCode, result.GatewayError))
	}
}

// failureOutcome classifies a failed gateway call: retryable when a control
// plugin computed a retry date, terminal otherwise.
func (o *operationRun) failureOutcome(ctx context.Context, cc plugin.ControlContext, cause error) statemachine.Outcome {
	retryAt := o.runner.chain.OnFailure(ctx, cc)
	if retryAt != nil {
		o.txn = o.txn.WithRetryAt(retryAt)
		return statemachine.RetryableOutcome(*retryAt, cause)
	}
	return statemachine.TerminalOutcome(cause)
}

func (o *operationRun) callGateway(ctx context.Context) (*plugin.GatewayResult, error) {
	req := plugin.CallRequest{
		AccountID:       o.txn.Account.ID,
		PaymentID:       o.txn.Payment.ID,
		TransactionID:   o.txn.Transaction.ID,
		PaymentMethodID: o.txn.PaymentMethodID,
		Amount:          o.txn.Amount,
		Currency:        o.txn.Currency,
		Properties:      o.txn.Properties,
	}
	switch o.params.TransactionType {
	case models.TransactionAuthorize:
		return o.gateway.AuthorizePayment(ctx, req)
	case models.TransactionCapture:
		return o.gateway.CapturePayment(ctx, req)
	case models.TransactionPurchase:
		return o.gateway.PurchasePayment(ctx, req)
	case models.TransactionVoid:
		return o.gateway.VoidPayment(ctx, req)
	case models.TransactionCredit:
		return o.gateway.CreditPayment(ctx, req)
	case models.TransactionRefund:
		return o.gateway.RefundPayment(ctx, req)
	}
	return nil, fmt.Errorf("no gateway operation for transaction type %s", o.params.TransactionType)
}

// EnteringState persists the resolved transition: the payment's new state name
// and the transaction's final status, atomically, then publishes the
// transition event.
func (o *operationRun) EnteringState(ctx context.Context, state *statemachine.State, op *statemachine.Operation, outcome statemachine.Outcome) error {
	fromState := o.txn.Payment.StateName
	status := o.transactionStatus(outcome)

	update := interfaces.CompletionUpdate{
		PaymentID:     o.txn.Payment.ID,
		StateName:     state.Name(),
		TransactionID: o.txn.Transaction.ID,
		Status:        status,
	}
	if result := o.txn.GatewayResult; result != nil {
		update.ProcessedAmount = result.Amount
		update.ProcessedCurrency = result.Currency
		update.GatewayErrorCode = result.GatewayErrorCode
		update.GatewayErrorMsg = result.GatewayError
	}
	if err := outcome.Err(); err != nil && update.GatewayErrorMsg == "" {
		update.GatewayErrorMsg = err.Error()
	}

	if err := o.runner.store.UpdateOnCompletion(ctx, update); err != nil {
		return models.WrapInternal(err)
	}

	o.txn.Payment.StateName = state.Name()
	o.txn.Transaction.Status = status
	o.txn.Transaction.ProcessedAmount = update.ProcessedAmount
	o.txn.Transaction.ProcessedCurrency = update.ProcessedCurrency
	o.txn.Transaction.GatewayErrorCode = update.GatewayErrorCode
	o.txn.Transaction.GatewayErrorMsg = update.GatewayErrorMsg

	evt := events.TransitionEvent{
		PaymentID:       o.txn.Payment.ID,
		AccountID:       o.txn.Account.ID,
		TransactionID:   o.txn.Transaction.ID,
		TransactionType: o.params.TransactionType,
		FromState:       fromState,
		ToState:         state.Name(),
		Status:          status,
		Amount:          o.txn.Amount.String(),
		Currency:        o.txn.Currency,
		RetryAt:         o.txn.RetryAt,
		OccurredAt:      o.runner.clock().UTC(),
	}
	if err := o.runner.publisher.PublishTransition(ctx, evt); err != nil {
		// The transition is already durable; eventing is best effort.
		o.runner.logger.Warn("transition event publish failed",
			zap.String("payment_id", o.txn.Payment.ID.String()),
			zap.Error(err),
		)
	}

	o.runner.logger.Info("payment state transition",
		zap.String("payment_id", o.txn.Payment.ID.String()),
		zap.String("operation", op.Name()),
		zap.String("from_state", fromState),
		zap.String("to_state", state.Name()),
		zap.String("status", string(status)),
	)
	return nil
}

// transactionStatus maps the operation outcome (and the gateway's own view)
// onto the persisted transaction status. A declined call is a payment failure;
// aborts, plugin exceptions and undefined gateway results are plugin failures.
func (o *operationRun) transactionStatus(outcome statemachine.Outcome) models.PaymentStatus {
	switch outcome.Result() {
	case statemachine.ResultSuccess:
		return models.StatusSuccess
	case statemachine.ResultPending:
		return models.StatusPending
	}
	if result := o.txn.GatewayResult; result != nil && result.Status == plugin.StatusError {
		return models.StatusPaymentFailureAborted
	}
	return models.StatusPluginFailureAborted
}
