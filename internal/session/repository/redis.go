package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"account-relay/internal/session/domain"
)

// RedisRepository stores each session as a JSON string under <prefix>session:<account id>.
// Keys carry no TTL; sessions live until deleted.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRepository returns a Redis-backed session repository.
func NewRedisRepository(client redis.UniversalClient, prefix string) *RedisRepository {
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) key(accountID string) string {
	return r.prefix + "session:" + accountID
}

// Get returns the session for accountID, or nil if not found.
func (r *RedisRepository) Get(ctx context.Context, accountID string) (*domain.Session, error) {
	val, err := r.client.Get(ctx, r.key(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return unmarshalRecord(val)
}

// Put overwrites the key with the session record. SET is atomic, so readers see old or new, never a mix.
func (r *RedisRepository) Put(ctx context.Context, s *domain.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := marshalRecord(s)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}
	return r.client.Set(ctx, r.key(s.AccountID), data, 0).Err()
}

// Delete removes the key for accountID.
func (r *RedisRepository) Delete(ctx context.Context, accountID string) error {
	return r.client.Del(ctx, r.key(accountID)).Err()
}

// Ping checks the Redis connection.
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
