package domain

import (
	"errors"
	"fmt"
	"time"
)

// Phase is the login lifecycle state of an account session.
type Phase string

const (
	PhaseUnauthenticated  Phase = "unauthenticated"
	PhaseCodeSent         Phase = "code_sent"
	PhasePasswordRequired Phase = "password_required"
	PhaseAuthorized       Phase = "authorized"
	PhaseFailed           Phase = "failed"
)

// Phases lists every phase, in lifecycle order.
var Phases = []Phase{PhaseUnauthenticated, PhaseCodeSent, PhasePasswordRequired, PhaseAuthorized, PhaseFailed}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseUnauthenticated, PhaseCodeSent, PhasePasswordRequired, PhaseAuthorized, PhaseFailed:
		return true
	}
	return false
}

// HoldsPendingToken reports whether a session in phase p carries a pending login token.
func (p Phase) HoldsPendingToken() bool {
	return p == PhaseCodeSent || p == PhasePasswordRequired
}

// Credentials are the protocol application credentials an account logs in with.
type Credentials struct {
	APIID   int64
	APIHash string
}

// ErrorInfo is the last failure recorded on a session, kept for diagnostics.
type ErrorInfo struct {
	Kind    string
	Message string
	At      time.Time
}

// Session is the persisted state of one external account passing through the relay.
type Session struct {
	AccountID   string
	Phase       Phase
	Phone       string
	Credentials Credentials

	// PendingLoginToken links SubmitCode/SubmitPassword to the RequestCode that produced it.
	PendingLoginToken string
	// PendingExpiresAt is the protocol-defined expiry of PendingLoginToken; nil when unknown or unset.
	PendingExpiresAt *time.Time
	// ProtocolSessionBlob is the opaque authenticated session material; set only when Authorized.
	ProtocolSessionBlob string

	PasswordAttempts int
	// RateLimitStrikes counts consecutive rate-limited code requests; drives backoff.
	RateLimitStrikes int
	// RetryAfter is the earliest time another RequestCode may reach the protocol.
	RetryAfter *time.Time

	CreatedAt      time.Time
	LastActivityAt time.Time
	LastError      *ErrorInfo
}

// New returns an Unauthenticated session for accountID.
func New(accountID string, now time.Time) *Session {
	return &Session{
		AccountID:      accountID,
		Phase:          PhaseUnauthenticated,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// ErrInvalidSession is returned by Validate when a session breaks a state invariant.
var ErrInvalidSession = errors.New("invalid session")

// Validate checks the phase/credential invariants. It is run before every persist.
func (s *Session) Validate() error {
	if s.AccountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidSession)
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidSession, s.Phase)
	}
	if (s.ProtocolSessionBlob != "") != (s.Phase == PhaseAuthorized) {
		return fmt.Errorf("%w: protocol session blob must be set iff phase is %s (phase %s)", ErrInvalidSession, PhaseAuthorized, s.Phase)
	}
	if (s.PendingLoginToken != "") != s.Phase.HoldsPendingToken() {
		return fmt.Errorf("%w: pending login token must be set iff phase is %s or %s (phase %s)", ErrInvalidSession, PhaseCodeSent, PhasePasswordRequired, s.Phase)
	}
	if s.PasswordAttempts < 0 || s.RateLimitStrikes < 0 {
		return fmt.Errorf("%w: negative counter", ErrInvalidSession)
	}
	return nil
}

// PendingExpired reports whether the pending login token has passed its protocol-defined expiry.
func (s *Session) PendingExpired(now time.Time) bool {
	return s.PendingExpiresAt != nil && !s.PendingExpiresAt.After(now)
}

// RetryBlocked reports whether RequestCode must wait until RetryAfter.
func (s *Session) RetryBlocked(now time.Time) bool {
	return s.RetryAfter != nil && s.RetryAfter.After(now)
}

// RecordError sets LastError.
func (s *Session) RecordError(kind, message string, now time.Time) {
	s.LastError = &ErrorInfo{Kind: kind, Message: message, At: now}
}

// Apply moves the session through the transition table for (event, outcome), clearing any
// token or blob the next phase must not hold. Callers set newly issued material after Apply.
func (s *Session) Apply(event Event, outcome Outcome, now time.Time) error {
	next, ok := Next(s.Phase, event, outcome)
	if !ok {
		return &IllegalTransitionError{From: s.Phase, Event: event, Outcome: outcome}
	}
	if next != PhaseAuthorized {
		s.ProtocolSessionBlob = ""
	}
	if !next.HoldsPendingToken() {
		s.PendingLoginToken = ""
		s.PendingExpiresAt = nil
	}
	if next != PhasePasswordRequired {
		s.PasswordAttempts = 0
	}
	s.Phase = next
	s.LastActivityAt = now
	return nil
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.PendingExpiresAt != nil {
		t := *s.PendingExpiresAt
		c.PendingExpiresAt = &t
	}
	if s.RetryAfter != nil {
		t := *s.RetryAfter
		c.RetryAfter = &t
	}
	if s.LastError != nil {
		e := *s.LastError
		c.LastError = &e
	}
	return &c
}
