package repository

import (
	"context"
	"fmt"

	"account-relay/internal/session/domain"
	"account-relay/internal/session/seal"
)

// SealedRepository encrypts the protocol session blob, the pending login token and the
// application API hash before they reach the inner store, and decrypts them on read.
type SealedRepository struct {
	inner  Repository
	sealer *seal.Sealer
}

// NewSealedRepository wraps inner.
func NewSealedRepository(inner Repository, sealer *seal.Sealer) *SealedRepository {
	return &SealedRepository{inner: inner, sealer: sealer}
}

func (r *SealedRepository) Get(ctx context.Context, accountID string) (*domain.Session, error) {
	s, err := r.inner.Get(ctx, accountID)
	if err != nil || s == nil {
		return s, err
	}
	for _, field := range []*string{&s.ProtocolSessionBlob, &s.PendingLoginToken, &s.Credentials.APIHash} {
		plain, err := r.sealer.Open(*field)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", accountID, err)
		}
		*field = plain
	}
	return s, nil
}

func (r *SealedRepository) Put(ctx context.Context, s *domain.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	out := s.Clone()
	for _, field := range []*string{&out.ProtocolSessionBlob, &out.PendingLoginToken, &out.Credentials.APIHash} {
		sealed, err := r.sealer.Seal(*field)
		if err != nil {
			return err
		}
		*field = sealed
	}
	return r.inner.Put(ctx, out)
}

func (r *SealedRepository) Delete(ctx context.Context, accountID string) error {
	return r.inner.Delete(ctx, accountID)
}
