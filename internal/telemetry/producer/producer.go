// Package producer publishes relay telemetry events to a message broker.
package producer

import (
	"context"

	"account-relay/internal/telemetry"
)

// Producer emits telemetry events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, event *telemetry.Event) error
	// Close releases resources. Safe to call if already closed.
	Close() error
}
