// Package relayerr defines the structured error kinds returned to relay callers and their
// mapping to response envelopes and HTTP status codes.
package relayerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the top-level classification of a relay failure.
type Kind string

const (
	KindUnauthorized       Kind = "unauthorized"
	KindInvalidPhase       Kind = "invalid_phase"
	KindProtocol           Kind = "protocol_error"
	KindTimeout            Kind = "timeout"
	KindNotFound           Kind = "not_found"
	KindBadRequest         Kind = "bad_request"
	KindUnsupportedCommand Kind = "unsupported_command"
	KindCommandDenied      Kind = "command_denied"
	KindInternal           Kind = "internal"
)

// Error is a relay error carrying a kind, an optional protocol sub-kind (Code) and a caller-safe message.
type Error struct {
	Kind    Kind
	Code    string // protocol sub-kind, e.g. "invalid_code"; empty for non-protocol kinds
	Message string
	Err     error
}

func (e *Error) Error() string {
	kind := e.EnvelopeKind()
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// EnvelopeKind is the "kind" field sent to callers. Protocol errors report their sub-kind.
func (e *Error) EnvelopeKind() string {
	if e.Kind == KindProtocol && e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

// New returns an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an *Error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Protocol returns a protocol error with the given sub-kind.
func Protocol(code, message string, err error) *Error {
	return &Error{Kind: KindProtocol, Code: code, Message: message, Err: err}
}

// Unauthorized is the single uniform rejection used by the auth gateway.
func Unauthorized() *Error {
	return New(KindUnauthorized, "unauthorized")
}

// InvalidPhase reports an operation that is not accepted in the session's current phase.
func InvalidPhase(op, phase string) *Error {
	return New(KindInvalidPhase, fmt.Sprintf("%s is not allowed in phase %s", op, phase))
}

// NotFound reports an unknown account.
func NotFound(accountID string) *Error {
	return New(KindNotFound, fmt.Sprintf("no session for account %q", accountID))
}

// Timeout reports a protocol call that exceeded its deadline. The caller owns the retry decision.
func Timeout(op string, err error) *Error {
	return Wrap(KindTimeout, op+" timed out; session unchanged, retry is safe", err)
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// protocolStatus maps protocol sub-kinds to HTTP status codes.
var protocolStatus = map[string]int{
	"invalid_phone":               http.StatusUnprocessableEntity,
	"invalid_code":                http.StatusUnprocessableEntity,
	"code_expired":                http.StatusUnprocessableEntity,
	"invalid_password":            http.StatusUnprocessableEntity,
	"password_attempts_exhausted": http.StatusUnprocessableEntity,
	"invalid_credentials":         http.StatusUnprocessableEntity,
	"rate_limited":                http.StatusTooManyRequests,
	"session_revoked":             http.StatusConflict,
	"network_failure":             http.StatusBadGateway,
	"command_failed":              http.StatusBadGateway,
}

// HTTPStatus returns the HTTP status code for err. Non-relay errors map to 500.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInvalidPhase:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest, KindUnsupportedCommand:
		return http.StatusBadRequest
	case KindCommandDenied:
		return http.StatusForbidden
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindProtocol:
		if code, ok := protocolStatus[e.Code]; ok {
			return code
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the error body returned to callers.
type Envelope struct {
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ToEnvelope converts err into the caller-facing envelope. Internal details of non-relay errors are not exposed.
func ToEnvelope(err error) Envelope {
	e, ok := As(err)
	if !ok {
		return Envelope{Status: "error", Kind: string(KindInternal), Message: "internal error"}
	}
	return Envelope{Status: "error", Kind: e.EnvelopeKind(), Message: e.Message}
}
