// Package store holds the SQLite plumbing shared by the ledger and the
// retrieval index: connection setup for both drivers, versioned schema
// migrations and vector blob helpers.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"agentjira/internal/logging"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCGO     = "sqlite3" // github.com/mattn/go-sqlite3
)

const busyTimeoutMS = 5000

// Open opens (creating if needed) a SQLite database at path with WAL
// journaling and a busy timeout. The pool is pinned to one connection so
// writers never contend for the file lock.
func Open(driver, path string) (*sql.DB, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if driver == "" {
		driver = DriverModernc
	}
	dsn, err := dsnFor(driver, path)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify database: %w", err)
	}

	logging.StoreDebug("Opened SQLite database %s (driver=%s)", path, driver)
	return db, nil
}

func dsnFor(driver, path string) (string, error) {
	switch driver {
	case DriverModernc:
		return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path, busyTimeoutMS), nil
	case DriverCGO:
		return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, busyTimeoutMS), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q (use %q or %q)", driver, DriverModernc, DriverCGO)
	}
}
