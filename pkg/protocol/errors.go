package protocol

import "fmt"

// ErrorKind classifies a rejection the way spec §7 enumerates them, so
// callers can switch on Kind instead of matching error strings.
type ErrorKind string

const (
	ErrValidation           ErrorKind = "validation"
	ErrAccessDenied         ErrorKind = "access_denied"
	ErrRateLimited          ErrorKind = "rate_limited"
	ErrBackpressureRejected ErrorKind = "backpressure"
	ErrCircuitOpen          ErrorKind = "circuit_open"
	ErrBudgetExceeded       ErrorKind = "budget_exceeded"
	ErrDeliveryIOError      ErrorKind = "delivery_io_error"
	ErrHandlerError         ErrorKind = "handler_error"
	ErrNotFound             ErrorKind = "not_found"
)

// RelayError carries a classified rejection reason alongside the
// underlying cause, so a caller can both errors.As for the kind and
// errors.Unwrap for the original error.
type RelayError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *RelayError) Unwrap() error { return e.Err }

// NewError builds a RelayError of the given kind.
func NewError(kind ErrorKind, reason string, cause error) *RelayError {
	return &RelayError{Kind: kind, Reason: reason, Err: cause}
}
