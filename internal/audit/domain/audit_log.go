package domain

import "time"

// Outcomes recorded on audit entries.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeFailure = "failure"
)

// AuditLog represents an audit event for one relay request.
type AuditLog struct {
	ID        string
	AccountID string
	Action    string
	Resource  string
	Outcome   string
	IP        string
	RequestID string
	Metadata  string
	CreatedAt time.Time
}
