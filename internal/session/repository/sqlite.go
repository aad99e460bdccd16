package repository

import (
	"context"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"account-relay/internal/db/sqlitedb"
	"account-relay/internal/session/domain"
)

// SQLiteSchema is applied on every pooled connection. Timestamps are unix nanoseconds.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS account_sessions (
    account_id            TEXT PRIMARY KEY,
    phase                 TEXT    NOT NULL,
    phone                 TEXT    NOT NULL DEFAULT '',
    api_id                INTEGER NOT NULL DEFAULT 0,
    api_hash              TEXT    NOT NULL DEFAULT '',
    pending_login_token   TEXT,
    pending_expires_at    INTEGER,
    protocol_session_blob TEXT,
    password_attempts     INTEGER NOT NULL DEFAULT 0,
    rate_limit_strikes    INTEGER NOT NULL DEFAULT 0,
    retry_after           INTEGER,
    created_at            INTEGER NOT NULL,
    last_activity_at      INTEGER NOT NULL,
    last_error_kind       TEXT,
    last_error_message    TEXT,
    last_error_at         INTEGER
);`

// SQLiteRepository stores sessions in a single SQLite file.
type SQLiteRepository struct {
	pool *sqlitedb.Pool
}

// NewSQLiteRepository returns a repository over pool. The pool must have been opened with SQLiteSchema.
func NewSQLiteRepository(pool *sqlitedb.Pool) *SQLiteRepository {
	return &SQLiteRepository{pool: pool}
}

// Get returns the session for accountID, or nil if not found.
func (r *SQLiteRepository) Get(ctx context.Context, accountID string) (*domain.Session, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	var out *domain.Session
	err = sqlitex.Execute(conn, `
		SELECT account_id, phase, phone, api_id, api_hash, pending_login_token, pending_expires_at,
		       protocol_session_blob, password_attempts, rate_limit_strikes, retry_after,
		       created_at, last_activity_at, last_error_kind, last_error_message, last_error_at
		FROM account_sessions WHERE account_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{accountID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = scanSQLiteSession(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanSQLiteSession(stmt *sqlite.Stmt) *domain.Session {
	s := &domain.Session{
		AccountID:           stmt.ColumnText(0),
		Phase:               domain.Phase(stmt.ColumnText(1)),
		Phone:               stmt.ColumnText(2),
		Credentials:         domain.Credentials{APIID: stmt.ColumnInt64(3), APIHash: stmt.ColumnText(4)},
		PendingLoginToken:   stmt.ColumnText(5),
		PendingExpiresAt:    nanosToPtr(stmt, 6),
		ProtocolSessionBlob: stmt.ColumnText(7),
		PasswordAttempts:    stmt.ColumnInt(8),
		RateLimitStrikes:    stmt.ColumnInt(9),
		RetryAfter:          nanosToPtr(stmt, 10),
		CreatedAt:           time.Unix(0, stmt.ColumnInt64(11)).UTC(),
		LastActivityAt:      time.Unix(0, stmt.ColumnInt64(12)).UTC(),
	}
	if !stmt.ColumnIsNull(13) {
		s.LastError = &domain.ErrorInfo{
			Kind:    stmt.ColumnText(13),
			Message: stmt.ColumnText(14),
			At:      time.Unix(0, stmt.ColumnInt64(15)).UTC(),
		}
	}
	return s
}

// Put upserts s in a single statement.
func (r *SQLiteRepository) Put(ctx context.Context, s *domain.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)

	var errKind, errMessage, errAt any
	if s.LastError != nil {
		errKind, errMessage, errAt = s.LastError.Kind, s.LastError.Message, s.LastError.At.UnixNano()
	}
	return sqlitex.Execute(conn, `
		INSERT INTO account_sessions (
		    account_id, phase, phone, api_id, api_hash, pending_login_token, pending_expires_at,
		    protocol_session_blob, password_attempts, rate_limit_strikes, retry_after,
		    created_at, last_activity_at, last_error_kind, last_error_message, last_error_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
		    phase = excluded.phase,
		    phone = excluded.phone,
		    api_id = excluded.api_id,
		    api_hash = excluded.api_hash,
		    pending_login_token = excluded.pending_login_token,
		    pending_expires_at = excluded.pending_expires_at,
		    protocol_session_blob = excluded.protocol_session_blob,
		    password_attempts = excluded.password_attempts,
		    rate_limit_strikes = excluded.rate_limit_strikes,
		    retry_after = excluded.retry_after,
		    last_activity_at = excluded.last_activity_at,
		    last_error_kind = excluded.last_error_kind,
		    last_error_message = excluded.last_error_message,
		    last_error_at = excluded.last_error_at`,
		&sqlitex.ExecOptions{
			Args: []any{
				s.AccountID, string(s.Phase), s.Phone, s.Credentials.APIID, s.Credentials.APIHash,
				nullableText(s.PendingLoginToken), ptrToNanos(s.PendingExpiresAt),
				nullableText(s.ProtocolSessionBlob), s.PasswordAttempts, s.RateLimitStrikes, ptrToNanos(s.RetryAfter),
				s.CreatedAt.UnixNano(), s.LastActivityAt.UnixNano(), errKind, errMessage, errAt,
			},
		})
}

// Delete removes the row for accountID.
func (r *SQLiteRepository) Delete(ctx context.Context, accountID string) error {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)
	return sqlitex.Execute(conn, `DELETE FROM account_sessions WHERE account_id = ?`,
		&sqlitex.ExecOptions{Args: []any{accountID}})
}

// Ping checks that a connection can be borrowed and used.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ptrToNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nanosToPtr(stmt *sqlite.Stmt, col int) *time.Time {
	if stmt.ColumnIsNull(col) {
		return nil
	}
	t := time.Unix(0, stmt.ColumnInt64(col)).UTC()
	return &t
}
