// Package sqlitetest opens a migrated in-memory SQLite database for tests.
package sqlitetest

import (
	"context"
	"testing"

	"github.com/chickenbids/auction/internal/repository"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Open returns a fresh, migrated in-memory database. A single connection is
// used because every connection to ":memory:" is a separate database; as a
// consequence every query issued while a transaction is open must go through
// that transaction.
func Open(tb testing.TB) *sqlx.DB {
	tb.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		tb.Fatalf("sqlitetest: open: %v", err)
	}
	db.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = db.Close() })

	if err = repository.Migrate(context.Background(), db); err != nil {
		tb.Fatalf("sqlitetest: migrate: %v", err)
	}
	return db
}
