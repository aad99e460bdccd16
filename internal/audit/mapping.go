package audit

import (
	"net/http"
	"strings"

	"account-relay/internal/audit/domain"
)

// ActionResource holds action and resource derived from a relay route.
type ActionResource struct {
	Action   string
	Resource string
}

var commandRoutes = map[string]bool{
	"execute": true,
}

// ParseRoute returns action and resource for a request path such as /submit_code.
// Session lifecycle routes map to resource "session", command routes to "command".
func ParseRoute(path string) ActionResource {
	name := strings.Trim(path, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	if commandRoutes[name] {
		return ActionResource{Action: name, Resource: "command"}
	}
	return ActionResource{Action: strings.ToLower(name), Resource: "session"}
}

// OutcomeForStatus maps an HTTP response status to an audit outcome.
func OutcomeForStatus(status int) string {
	switch {
	case status < http.StatusBadRequest:
		return domain.OutcomeSuccess
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return domain.OutcomeDenied
	default:
		return domain.OutcomeFailure
	}
}
