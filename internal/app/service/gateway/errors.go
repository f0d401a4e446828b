package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration   = errors.New("gateway configuration error")
	ErrSignature       = errors.New("callback signature mismatch")
	ErrRequestFailed   = errors.New("payment request failed")
	ErrInvalidCallback = errors.New("invalid callback parameters")
	ErrUnknownHandler  = errors.New("unknown payment handler")
)

// Message keys shown to end users. Diagnostic detail never leaves the logs.
const (
	KeyGeneral         = "payment_error_general"
	KeyRequestFailed   = "payment_error_request_failed"
	KeyConfiguration   = "payment_error_configuration"
	KeySignature       = "payment_error_signature"
	KeyInvalidCallback = "payment_error_invalid_callback"
	KeyEmailRequired   = "payment_error_email_required"
)

// PaymentError carries a translatable message key plus the underlying cause.
type PaymentError struct {
	MessageKey string
	Err        error
}

func (e *PaymentError) Error() string {
	if e.Err == nil {
		return e.MessageKey
	}
	return fmt.Sprintf("%s: %v", e.MessageKey, e.Err)
}

func (e *PaymentError) Unwrap() error { return e.Err }

func newPaymentError(key string, err error) *PaymentError {
	return &PaymentError{MessageKey: key, Err: err}
}

// MessageKey returns the user-facing key for err.
func MessageKey(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) && pe.MessageKey != "" {
		return pe.MessageKey
	}
	return KeyGeneral
}
