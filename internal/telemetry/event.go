package telemetry

import (
	"encoding/json"
	"time"
)

// Event types emitted by the relay.
const (
	EventCodeRequested     = "code_requested"
	EventCodeSubmitted     = "code_submitted"
	EventPasswordSubmitted = "password_submitted"
	EventCommandExecuted   = "command_executed"
	EventSessionReset      = "session_reset"
	EventAuthRejected      = "auth_rejected"
	EventHTTPRequest       = "http_request"
)

// Event is one relay telemetry record. JSON field names are what the worker and Loki labels read.
type Event struct {
	AccountID string          `json:"accountId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	EventType string          `json:"eventType"`
	Source    string          `json:"source,omitempty"`
	Phase     string          `json:"phase,omitempty"`
	Outcome   string          `json:"outcome,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewEvent returns an event stamped with the current UTC time. meta may be nil; unmarshalable meta is dropped.
func NewEvent(eventType, accountID, outcome string, meta map[string]any) *Event {
	e := &Event{
		AccountID: accountID,
		EventType: eventType,
		Source:    "relay",
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			e.Metadata = b
		}
	}
	return e
}
