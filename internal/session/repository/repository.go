package repository

import (
	"context"

	"account-relay/internal/session/domain"
)

// Repository is the durable session store. Exactly one session exists per account id.
type Repository interface {
	// Get returns the session for accountID, or (nil, nil) if none exists.
	// It returns an error only for storage failures, not for missing records.
	Get(ctx context.Context, accountID string) (*domain.Session, error)
	// Put validates s and atomically replaces any stored session for s.AccountID.
	Put(ctx context.Context, s *domain.Session) error
	// Delete removes the session for accountID. Deleting a missing session is not an error.
	Delete(ctx context.Context, accountID string) error
}
