package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a protocol failure.
type ErrorKind string

const (
	ErrInvalidPhone       ErrorKind = "invalid_phone"
	ErrInvalidCode        ErrorKind = "invalid_code"
	ErrCodeExpired        ErrorKind = "code_expired"
	ErrInvalidPassword    ErrorKind = "invalid_password"
	ErrRateLimited        ErrorKind = "rate_limited"
	ErrNetworkFailure     ErrorKind = "network_failure"
	ErrSessionRevoked     ErrorKind = "session_revoked"
	ErrInvalidCredentials ErrorKind = "invalid_credentials"
	ErrCommandFailed      ErrorKind = "command_failed"
)

// Error is a typed failure reported by a protocol implementation.
type Error struct {
	Kind    ErrorKind
	Message string
	// RetryAfter is the protocol's own wait before the call may be repeated; only set for rate_limited.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("protocol %s: %s (retry after %s)", e.Kind, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("protocol %s: %s", e.Kind, e.Message)
}

// NewError returns a protocol error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the protocol kind of err, or "" for non-protocol errors.
func KindOf(err error) ErrorKind {
	if pe, ok := AsError(err); ok {
		return pe.Kind
	}
	return ""
}

// IsTransient reports whether err leaves the remote state untouched, so the caller's phase must not
// change: network failures and deadline or cancellation errors.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return KindOf(err) == ErrNetworkFailure
}

// IsTimeout reports whether err is a deadline error.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
