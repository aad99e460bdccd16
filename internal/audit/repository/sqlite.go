package repository

import (
	"context"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"account-relay/internal/audit/domain"
	"account-relay/internal/db/sqlitedb"
)

// SQLiteSchema creates the audit_logs table. Timestamps are unix nanoseconds.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS audit_logs (
    id          TEXT PRIMARY KEY,
    account_id  TEXT    NOT NULL DEFAULT '',
    action      TEXT    NOT NULL,
    resource    TEXT    NOT NULL,
    outcome     TEXT    NOT NULL,
    ip          TEXT    NOT NULL DEFAULT '',
    request_id  TEXT    NOT NULL DEFAULT '',
    metadata    TEXT,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_account_created ON audit_logs (account_id, created_at DESC);`

// SQLiteRepository stores audit logs next to the sessions in the relay's SQLite file.
type SQLiteRepository struct {
	pool *sqlitedb.Pool
}

// NewSQLiteRepository returns a repository over pool. The pool must have been opened with SQLiteSchema.
func NewSQLiteRepository(pool *sqlitedb.Pool) *SQLiteRepository {
	return &SQLiteRepository{pool: pool}
}

// Create inserts a.
func (r *SQLiteRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)

	var meta any
	if a.Metadata != "" {
		meta = a.Metadata
	}
	return sqlitex.Execute(conn, `
		INSERT INTO audit_logs (id, account_id, action, resource, outcome, ip, request_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{a.ID, a.AccountID, a.Action, a.Resource, a.Outcome, a.IP, a.RequestID, meta, a.CreatedAt.UnixNano()},
		})
}

// ListByAccount returns audit logs for accountID, newest first.
func (r *SQLiteRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int32) ([]*domain.AuditLog, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	var out []*domain.AuditLog
	err = sqlitex.Execute(conn, `
		SELECT id, account_id, action, resource, outcome, ip, request_id, metadata, created_at
		FROM audit_logs WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		&sqlitex.ExecOptions{
			Args: []any{accountID, limit, offset},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, &domain.AuditLog{
					ID:        stmt.ColumnText(0),
					AccountID: stmt.ColumnText(1),
					Action:    stmt.ColumnText(2),
					Resource:  stmt.ColumnText(3),
					Outcome:   stmt.ColumnText(4),
					IP:        stmt.ColumnText(5),
					RequestID: stmt.ColumnText(6),
					Metadata:  stmt.ColumnText(7),
					CreatedAt: time.Unix(0, stmt.ColumnInt64(8)).UTC(),
				})
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}
