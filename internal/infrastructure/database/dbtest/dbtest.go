// Package dbtest opens migrated in-memory databases for repository tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/parkflow/parkflow-core/internal/infrastructure/database"
	_ "github.com/parkflow/parkflow-core/migrations" // registers the schema
)

// Open returns an in-memory database with the full schema applied.
// It is closed automatically when the test finishes.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Open(ctx, database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // Test cleanup
	})

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db.DB
}
