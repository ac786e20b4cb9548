package models

import (
	"errors"
	"fmt"
)

// ErrorCode classifies caller-visible payment failures.
type ErrorCode string

const (
	ErrCodeNoSuchPayment          ErrorCode = "NO_SUCH_PAYMENT"
	ErrCodeNoDefaultPaymentMethod ErrorCode = "NO_DEFAULT_PAYMENT_METHOD"
	ErrCodeInvalidParameter       ErrorCode = "INVALID_PARAMETER"
	ErrCodePluginNotFound         ErrorCode = "PAYMENT_PLUGIN_NOT_FOUND"
	ErrCodeLockFailed             ErrorCode = "PAYMENT_LOCK_FAILED"
	ErrCodeInternal               ErrorCode = "PAYMENT_INTERNAL_ERROR"
)

// PaymentError is the typed error surfaced to callers of the automaton. Domain
// errors travel unwrapped; anything else is wrapped as PAYMENT_INTERNAL_ERROR
// with the original error kept as the cause.
type PaymentError struct {
	Code  ErrorCode
	msg   string
	cause error
}

func NewPaymentError(code ErrorCode, format string, args ...any) *PaymentError {
	return &PaymentError{Code: code, msg: fmt.Sprintf(format, args...)}
}

// WrapInternal wraps a non-domain error as PAYMENT_INTERNAL_ERROR, passing an
// existing *PaymentError through untouched.
func WrapInternal(err error) *PaymentError {
	if err == nil {
		return nil
	}
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe
	}
	return &PaymentError{Code: ErrCodeInternal, msg: "internal payment error", cause: err}
}

func (e *PaymentError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

func (e *PaymentError) Unwrap() error { return e.cause }

// Is matches on the error code so callers can use errors.Is with a bare
// NewPaymentError(code, "") sentinel.
func (e *PaymentError) Is(target error) bool {
	var pe *PaymentError
	if errors.As(target, &pe) {
		return pe.Code == e.Code
	}
	return false
}
