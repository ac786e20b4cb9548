package statemachine

import (
	"context"
	"time"
)

// Outcome is the explicit result of an operation callback. It replaces
// exception-style control flow: an operation reports success, an indeterminate
// pending result, a retryable failure carrying the next retry time, or a
// terminal failure.
type Outcome struct {
	result  OperationResult
	retryAt time.Time
	err     error
}

func SuccessOutcome() Outcome { return Outcome{result: ResultSuccess} }

// PendingOutcome marks an indeterminate call, typically a dispatch timeout.
// The external side effect may or may not have happened.
func PendingOutcome() Outcome { return Outcome{result: ResultPending} }

// RetryableOutcome marks a failed call that a control plugin scheduled for
// retry at the given time.
func RetryableOutcome(retryAt time.Time, err error) Outcome {
	return Outcome{result: ResultFailure, retryAt: retryAt, err: err}
}

// TerminalOutcome marks a failure that must not be retried: aborts,
// configuration defects and unhandled plugin errors.
func TerminalOutcome(err error) Outcome { return Outcome{result: ResultException, err: err} }

func (o Outcome) Result() OperationResult { return o.result }

func (o Outcome) RetryAt() (time.Time, bool) { return o.retryAt, !o.retryAt.IsZero() }

// Err returns the failure behind a FAILURE or EXCEPTION outcome, nil otherwise.
func (o Outcome) Err() error { return o.err }

// OperationCallback performs the external gateway call and reports its outcome.
type OperationCallback interface {
	DoOperation(ctx context.Context) Outcome
}

// LeavingStateCallback runs before the operation, while the payment is still in
// its initial state. It typically materializes the transaction row.
type LeavingStateCallback interface {
	LeavingState(ctx context.Context, state *State) error
}

// EnteringStateCallback runs after the transition has been resolved and
// persists the new payment state and transaction status.
type EnteringStateCallback interface {
	EnteringState(ctx context.Context, state *State, op *Operation, outcome Outcome) error
}

// RunOperation drives one operation from this state: leaving callback,
// operation callback, transition lookup from the actual outcome, entering
// callback. The outcome is returned to the caller once the new state has been
// recorded; a transition lookup failure is returned as an error and is fatal.
func (s *State) RunOperation(
	ctx context.Context,
	op *Operation,
	operation OperationCallback,
	entering EnteringStateCallback,
	leaving LeavingStateCallback,
) (Outcome, error) {
	if err := leaving.LeavingState(ctx, s); err != nil {
		return Outcome{}, err
	}

	outcome := operation.DoOperation(ctx)

	transition, err := s.machine.FindTransition(s, op, outcome.Result())
	if err != nil {
		return Outcome{}, err
	}

	if err := entering.EnteringState(ctx, transition.To(), op, outcome); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}
