package domain

import "fmt"

// Event is a request that drives the session state machine.
type Event string

const (
	EventRequestCode    Event = "request_code"
	EventSubmitCode     Event = "submit_code"
	EventSubmitPassword Event = "submit_password"
	EventInvalidate     Event = "invalidate"
	EventExecute        Event = "execute"
)

// Events lists every event.
var Events = []Event{EventRequestCode, EventSubmitCode, EventSubmitPassword, EventInvalidate, EventExecute}

// Outcome classifies the result of the protocol call an event triggered.
type Outcome string

const (
	OutcomeSucceeded      Outcome = "succeeded"
	OutcomePasswordNeeded Outcome = "password_needed"
	// OutcomeRejected is a retryable refusal of caller input (wrong code, wrong password, failed command).
	OutcomeRejected Outcome = "rejected"
	// OutcomeExhausted is a rejection that used up the last allowed attempt.
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeExpired means the pending login flow is no longer usable.
	OutcomeExpired       Outcome = "expired"
	OutcomeUnrecoverable Outcome = "unrecoverable"
	// OutcomeTransient covers network failures and timeouts; phase never changes.
	OutcomeTransient Outcome = "transient"
	// OutcomeRateLimited is a protocol flood-wait on a code request; the flow fails until RetryAfter.
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeRevoked     Outcome = "revoked"
)

// Outcomes lists every outcome.
var Outcomes = []Outcome{
	OutcomeSucceeded, OutcomePasswordNeeded, OutcomeRejected, OutcomeExhausted,
	OutcomeExpired, OutcomeUnrecoverable, OutcomeTransient, OutcomeRateLimited, OutcomeRevoked,
}

type transitionKey struct {
	from    Phase
	event   Event
	outcome Outcome
}

// transitions is the complete table. Any (phase, event, outcome) not listed is illegal.
var transitions = map[transitionKey]Phase{
	// request_code: first attempt, retry after failure, or re-issue of an expired code.
	{PhaseUnauthenticated, EventRequestCode, OutcomeSucceeded}:     PhaseCodeSent,
	{PhaseUnauthenticated, EventRequestCode, OutcomeUnrecoverable}: PhaseFailed,
	{PhaseUnauthenticated, EventRequestCode, OutcomeTransient}:     PhaseUnauthenticated,
	{PhaseUnauthenticated, EventRequestCode, OutcomeRateLimited}:   PhaseFailed,
	{PhaseFailed, EventRequestCode, OutcomeSucceeded}:              PhaseCodeSent,
	{PhaseFailed, EventRequestCode, OutcomeUnrecoverable}:          PhaseFailed,
	{PhaseFailed, EventRequestCode, OutcomeTransient}:              PhaseFailed,
	{PhaseFailed, EventRequestCode, OutcomeRateLimited}:            PhaseFailed,
	{PhaseCodeSent, EventRequestCode, OutcomeSucceeded}:            PhaseCodeSent,
	{PhaseCodeSent, EventRequestCode, OutcomeUnrecoverable}:        PhaseFailed,
	{PhaseCodeSent, EventRequestCode, OutcomeTransient}:            PhaseCodeSent,
	{PhaseCodeSent, EventRequestCode, OutcomeRateLimited}:          PhaseFailed,

	{PhaseCodeSent, EventSubmitCode, OutcomeSucceeded}:      PhaseAuthorized,
	{PhaseCodeSent, EventSubmitCode, OutcomePasswordNeeded}: PhasePasswordRequired,
	{PhaseCodeSent, EventSubmitCode, OutcomeRejected}:       PhaseCodeSent,
	{PhaseCodeSent, EventSubmitCode, OutcomeExpired}:        PhaseFailed,
	{PhaseCodeSent, EventSubmitCode, OutcomeUnrecoverable}:  PhaseFailed,
	{PhaseCodeSent, EventSubmitCode, OutcomeTransient}:      PhaseCodeSent,

	{PhasePasswordRequired, EventSubmitPassword, OutcomeSucceeded}:     PhaseAuthorized,
	{PhasePasswordRequired, EventSubmitPassword, OutcomeRejected}:      PhasePasswordRequired,
	{PhasePasswordRequired, EventSubmitPassword, OutcomeExhausted}:     PhaseFailed,
	{PhasePasswordRequired, EventSubmitPassword, OutcomeExpired}:       PhaseFailed,
	{PhasePasswordRequired, EventSubmitPassword, OutcomeUnrecoverable}: PhaseFailed,
	{PhasePasswordRequired, EventSubmitPassword, OutcomeTransient}:     PhasePasswordRequired,

	{PhaseUnauthenticated, EventInvalidate, OutcomeSucceeded}:  PhaseUnauthenticated,
	{PhaseCodeSent, EventInvalidate, OutcomeSucceeded}:         PhaseUnauthenticated,
	{PhasePasswordRequired, EventInvalidate, OutcomeSucceeded}: PhaseUnauthenticated,
	{PhaseAuthorized, EventInvalidate, OutcomeSucceeded}:       PhaseUnauthenticated,
	{PhaseFailed, EventInvalidate, OutcomeSucceeded}:           PhaseUnauthenticated,

	{PhaseAuthorized, EventExecute, OutcomeSucceeded}:     PhaseAuthorized,
	{PhaseAuthorized, EventExecute, OutcomeRejected}:      PhaseAuthorized,
	{PhaseAuthorized, EventExecute, OutcomeTransient}:     PhaseAuthorized,
	{PhaseAuthorized, EventExecute, OutcomeRevoked}:       PhaseUnauthenticated,
	{PhaseAuthorized, EventExecute, OutcomeUnrecoverable}: PhaseFailed,
}

// acceptedIn is derived from transitions: the phases in which each event may start.
var acceptedIn = func() map[Event]map[Phase]bool {
	out := make(map[Event]map[Phase]bool)
	for k := range transitions {
		if out[k.event] == nil {
			out[k.event] = make(map[Phase]bool)
		}
		out[k.event][k.from] = true
	}
	return out
}()

// CanApply reports whether event is accepted while a session is in phase.
func CanApply(phase Phase, event Event) bool {
	return acceptedIn[event][phase]
}

// Next returns the phase reached from `from` when event ends with outcome. ok is false for illegal combinations.
func Next(from Phase, event Event, outcome Outcome) (Phase, bool) {
	p, ok := transitions[transitionKey{from, event, outcome}]
	return p, ok
}

// IllegalTransitionError reports a (phase, event, outcome) triple outside the transition table.
type IllegalTransitionError struct {
	From    Phase
	Event   Event
	Outcome Outcome
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s --%s/%s-->", e.From, e.Event, e.Outcome)
}
