package repository

import (
	"context"
	"database/sql"

	"account-relay/internal/audit/domain"
)

const insertAuditLogSQL = `
INSERT INTO audit_logs (id, account_id, action, resource, outcome, ip, request_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const listAuditLogsByAccountSQL = `
SELECT id, account_id, action, resource, outcome, ip, request_id, metadata, created_at
FROM audit_logs WHERE account_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

// PostgresRepository stores audit logs in the audit_logs table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	meta := sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}
	_, err := r.db.ExecContext(ctx, insertAuditLogSQL,
		a.ID, a.AccountID, a.Action, a.Resource, a.Outcome, a.IP, a.RequestID, meta, a.CreatedAt)
	return err
}

// ListByAccount returns audit logs for accountID, paginated by limit and offset.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, listAuditLogsByAccountSQL, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a    domain.AuditLog
			meta sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Action, &a.Resource, &a.Outcome, &a.IP, &a.RequestID, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Metadata = meta.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
