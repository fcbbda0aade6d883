package store

import (
	"context"
	"database/sql"
	"fmt"

	"agentjira/internal/logging"
)

// Migration is one schema step. Versions must be increasing.
type Migration struct {
	Version    int
	Statements []string
}

// Migrate applies every migration newer than the database's user_version,
// each in its own transaction, and returns the resulting version.
func Migrate(ctx context.Context, db *sql.DB, name string, migrations []Migration) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Migrate "+name)
	defer timer.Stop()

	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return current, fmt.Errorf("%s: migration v%d: %w", name, m.Version, err)
		}
		current = m.Version
		applied++
	}

	if applied > 0 {
		logging.Store("%s schema migrated to v%d (%d applied)", name, current, applied)
	}
	return current, nil
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion reads PRAGMA user_version.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// TableExists reports whether a table with the given name exists.
func TableExists(ctx context.Context, db *sql.DB, table string) bool {
	var name string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	return err == nil
}
