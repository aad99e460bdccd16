package db

import "embed"

// MigrationFS embeds the Postgres schema for account sessions and audit logs.
// Applied by internal/db/migrate (cmd/migrate, and cmd/server when AUTO_MIGRATE is set).
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
