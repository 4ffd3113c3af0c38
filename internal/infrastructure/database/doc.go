// Package database provides SQLite connectivity for ParkFlow Core.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Embedded, versioned schema migrations (up and down)
//   - Transaction helpers for multi-statement writes
//
// All queries elsewhere in the module use parameterised statements.
// The database file is created with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, and are registered by the migrations package.
package database
