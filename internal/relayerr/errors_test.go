package relayerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want int
	}{
		{"unauthorized", Unauthorized(), http.StatusUnauthorized},
		{"invalid phase", InvalidPhase("submit_code", "authorized"), http.StatusConflict},
		{"not found", NotFound("acct"), http.StatusNotFound},
		{"timeout", Timeout("request_code", errors.New("deadline")), http.StatusGatewayTimeout},
		{"invalid code", Protocol("invalid_code", "wrong code", nil), http.StatusUnprocessableEntity},
		{"rate limited", Protocol("rate_limited", "slow down", nil), http.StatusTooManyRequests},
		{"revoked", Protocol("session_revoked", "re-authenticate", nil), http.StatusConflict},
		{"unknown protocol code", Protocol("weird", "?", nil), http.StatusBadGateway},
		{"unsupported command", New(KindUnsupportedCommand, "nope"), http.StatusBadRequest},
		{"denied", New(KindCommandDenied, "policy"), http.StatusForbidden},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped relay error", fmt.Errorf("outer: %w", NotFound("a")), http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Errorf("HTTPStatus = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestToEnvelope_ProtocolUsesSubKind(t *testing.T) {
	env := ToEnvelope(Protocol("invalid_code", "the code is invalid", nil))
	if env.Status != "error" {
		t.Errorf("status = %q, want error", env.Status)
	}
	if env.Kind != "invalid_code" {
		t.Errorf("kind = %q, want invalid_code", env.Kind)
	}
}

func TestToEnvelope_HidesInternalErrors(t *testing.T) {
	env := ToEnvelope(errors.New("pq: connection refused to 10.0.0.3"))
	if env.Kind != "internal" {
		t.Errorf("kind = %q, want internal", env.Kind)
	}
	if env.Message != "internal error" {
		t.Errorf("message = %q, must not leak cause", env.Message)
	}
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("wrap: %w", InvalidPhase("execute", "code_sent"))
	if !IsKind(err, KindInvalidPhase) {
		t.Error("IsKind should see through wrapping")
	}
	if IsKind(err, KindNotFound) {
		t.Error("IsKind matched wrong kind")
	}
	if IsKind(nil, KindNotFound) {
		t.Error("IsKind(nil) should be false")
	}
}
