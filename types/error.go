package types

import (
	"fmt"
	"time"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Resolution error codes. Resolution failures are hard errors surfaced to
// the calling agent so it can retry with corrected input.
const (
	ErrRecipientNotFound ErrorCode = "RECIPIENT_NOT_FOUND"
	ErrProjectNotFound   ErrorCode = "PROJECT_NOT_FOUND"
	ErrAgentNotFound     ErrorCode = "AGENT_NOT_FOUND"
	ErrEscalationInvalid ErrorCode = "ESCALATION_INVALID"
)

// Policy error codes.
const (
	ErrSelfDelegation     ErrorCode = "SELF_DELEGATION"
	ErrCircularDelegation ErrorCode = "CIRCULAR_DELEGATION"
)

// Transport and bounded-operation error codes.
const (
	ErrTimeout        ErrorCode = "TIMEOUT"
	ErrRelayRejected  ErrorCode = "RELAY_REJECTED"
	ErrSigningFailed  ErrorCode = "SIGNING_FAILED"
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewTimeoutError creates a TIMEOUT error that embeds the configured bound
// in its message, per the bounded-wait discipline.
func NewTimeoutError(op string, bound time.Duration) *Error {
	return &Error{
		Code:      ErrTimeout,
		Message:   fmt.Sprintf("%s timed out after %s", op, bound),
		Retryable: true,
	}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
