package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestOpen verifies database connection establishment.
func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("creates nested directory and file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

		db, err := Open(ctx, Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if err := db.HealthCheck(ctx); err != nil {
			t.Fatalf("HealthCheck() error = %v", err)
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %v, want %v", db.Path(), dbPath)
		}
	})

	t.Run("in memory", func(t *testing.T) {
		db, err := Open(ctx, Config{Path: ":memory:", WALMode: true})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if err := db.HealthCheck(ctx); err != nil {
			t.Errorf("HealthCheck() error = %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := Open(cancelled, Config{Path: filepath.Join(t.TempDir(), "x.db")})
		if err == nil {
			t.Error("Open() with cancelled context expected error, got nil")
		}
	})
}

// TestClose verifies graceful shutdown.
func TestClose(t *testing.T) {
	db := openTestDB(t)

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil DB error = %v", err)
	}
}

// TestWithTx verifies commit on success and rollback on error.
func TestWithTx(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE tx_test (id INTEGER PRIMARY KEY, value TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO tx_test (value) VALUES (?)", "committed")
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() commit path error = %v", err)
	}

	errBoom := errors.New("boom")
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO tx_test (value) VALUES (?)", "rolled_back"); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("WithTx() error = %v, want %v", err, errBoom)
	}

	tests := []struct {
		value string
		want  int
	}{
		{"committed", 1},
		{"rolled_back", 0},
	}
	for _, tt := range tests {
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tx_test WHERE value = ?", tt.value).Scan(&count); err != nil {
			t.Fatalf("SELECT error = %v", err)
		}
		if count != tt.want {
			t.Errorf("rows with %q = %d, want %d", tt.value, count, tt.want)
		}
	}
}

// TestStats verifies the single-connection pool.
func TestStats(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if stats := db.Stats(); stats.MaxOpenConnections != 1 {
		t.Errorf("MaxOpenConnections = %v, want 1 (SQLite single writer)", stats.MaxOpenConnections)
	}
}

// openTestDB creates a temporary file-backed database for testing.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := Open(ctx, Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}
