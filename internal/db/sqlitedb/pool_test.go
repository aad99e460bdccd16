package sqlitedb

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open without path should fail")
	}
}

func TestOpen_AppliesPragmasAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relay.db")
	pool, err := Open(Config{Path: path, Schema: `CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY);`})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	conn, err := pool.Take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Put(conn)

	var mode string
	err = sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			mode = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	if err := sqlitex.Execute(conn, "INSERT INTO t (id) VALUES (1)", nil); err != nil {
		t.Errorf("schema table missing: %v", err)
	}
}
