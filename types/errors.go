package types

import (
	"errors"
	"fmt"
)

// GateError is the typed failure surface for exceptional conditions.
// Expected negative verification outcomes are not errors; they resolve to
// a Verdict with Valid=false and a reason. GateError covers the rest:
// exhausted RPC endpoints, misconfiguration, timeouts.
type GateError struct {
	Code    string
	Message string
	Cause   error
}

// Error codes carried in HTTP responses as a stable machine-checkable
// `code` field.
const (
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeRPCUnavailable       = "RPC_UNAVAILABLE"
	ErrCodeServiceNotConfigured = "SERVICE_NOT_CONFIGURED"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeTimeout              = "TIMEOUT"
	ErrCodeInternal             = "INTERNAL"
)

func (e *GateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GateError) Unwrap() error {
	return e.Cause
}

// NewGateError builds a GateError wrapping an optional cause.
func NewGateError(code, message string, cause error) *GateError {
	return &GateError{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the GateError code from err's chain, or ErrCodeInternal
// when err carries no typed code.
func CodeOf(err error) string {
	var ge *GateError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ErrCodeInternal
}
