package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"account-relay/internal/session/domain"
)

const upsertSessionSQL = `
INSERT INTO account_sessions (
    account_id, phase, phone, api_id, api_hash, pending_login_token, pending_expires_at,
    protocol_session_blob, password_attempts, rate_limit_strikes, retry_after,
    created_at, last_activity_at, last_error_kind, last_error_message, last_error_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (account_id) DO UPDATE SET
    phase = EXCLUDED.phase,
    phone = EXCLUDED.phone,
    api_id = EXCLUDED.api_id,
    api_hash = EXCLUDED.api_hash,
    pending_login_token = EXCLUDED.pending_login_token,
    pending_expires_at = EXCLUDED.pending_expires_at,
    protocol_session_blob = EXCLUDED.protocol_session_blob,
    password_attempts = EXCLUDED.password_attempts,
    rate_limit_strikes = EXCLUDED.rate_limit_strikes,
    retry_after = EXCLUDED.retry_after,
    last_activity_at = EXCLUDED.last_activity_at,
    last_error_kind = EXCLUDED.last_error_kind,
    last_error_message = EXCLUDED.last_error_message,
    last_error_at = EXCLUDED.last_error_at`

const selectSessionSQL = `
SELECT account_id, phase, phone, api_id, api_hash, pending_login_token, pending_expires_at,
       protocol_session_blob, password_attempts, rate_limit_strikes, retry_after,
       created_at, last_activity_at, last_error_kind, last_error_message, last_error_at
FROM account_sessions WHERE account_id = $1`

// PostgresRepository stores sessions in the account_sessions table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
// The schema is applied by internal/db/migrate.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the session for accountID, or nil if not found.
func (r *PostgresRepository) Get(ctx context.Context, accountID string) (*domain.Session, error) {
	var (
		s                          domain.Session
		phase                      string
		token, blob                sql.NullString
		pendingExpires, retryAfter sql.NullTime
		errKind, errMessage        sql.NullString
		errAt                      sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, selectSessionSQL, accountID).Scan(
		&s.AccountID, &phase, &s.Phone, &s.Credentials.APIID, &s.Credentials.APIHash,
		&token, &pendingExpires, &blob, &s.PasswordAttempts, &s.RateLimitStrikes, &retryAfter,
		&s.CreatedAt, &s.LastActivityAt, &errKind, &errMessage, &errAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Phase = domain.Phase(phase)
	s.PendingLoginToken = token.String
	s.ProtocolSessionBlob = blob.String
	s.PendingExpiresAt = nullTimeToPtr(pendingExpires)
	s.RetryAfter = nullTimeToPtr(retryAfter)
	if errKind.Valid {
		s.LastError = &domain.ErrorInfo{Kind: errKind.String, Message: errMessage.String, At: errAt.Time}
	}
	return &s, nil
}

// Put upserts s. created_at is kept from the first insert.
func (r *PostgresRepository) Put(ctx context.Context, s *domain.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	var errKind, errMessage sql.NullString
	var errAt sql.NullTime
	if s.LastError != nil {
		errKind = sql.NullString{String: s.LastError.Kind, Valid: true}
		errMessage = sql.NullString{String: s.LastError.Message, Valid: true}
		errAt = sql.NullTime{Time: s.LastError.At, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, upsertSessionSQL,
		s.AccountID, string(s.Phase), s.Phone, s.Credentials.APIID, s.Credentials.APIHash,
		stringToNull(s.PendingLoginToken), timeToNullTime(s.PendingExpiresAt),
		stringToNull(s.ProtocolSessionBlob), s.PasswordAttempts, s.RateLimitStrikes, timeToNullTime(s.RetryAfter),
		s.CreatedAt, s.LastActivityAt, errKind, errMessage, errAt,
	)
	return err
}

// Delete removes the row for accountID.
func (r *PostgresRepository) Delete(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM account_sessions WHERE account_id = $1`, accountID)
	return err
}

// Ping checks the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func stringToNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
