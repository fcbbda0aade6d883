package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentjira/internal/gateway"
	"agentjira/internal/logging"
	"agentjira/internal/store"
)

var schema = []store.Migration{
	{Version: 1, Statements: []string{
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			fingerprint TEXT PRIMARY KEY,
			status      TEXT NOT NULL,
			issue_key   TEXT NOT NULL DEFAULT '',
			issue_id    TEXT NOT NULL DEFAULT '',
			issue_url   TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT '',
			run_id      TEXT NOT NULL DEFAULT '',
			title       TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_status ON ledger_entries(status)`,
	}},
}

// SQLStore is the durable Ledger backed by SQLite.
type SQLStore struct {
	db     *sql.DB
	path   string
	driver string
	now    func() time.Time
}

// Open opens or creates the ledger database at path using driver
// ("sqlite" or "sqlite3").
func Open(ctx context.Context, driver, path string) (*SQLStore, error) {
	db, err := store.Open(driver, path)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	if _, err := store.Migrate(ctx, db, "ledger", schema); err != nil {
		db.Close()
		return nil, &Error{Op: "migrate", Err: err}
	}
	logging.Ledger("Ledger opened at %s (driver=%s)", path, driver)
	return &SQLStore{db: db, path: path, driver: driver, now: time.Now}, nil
}

// Path returns the database file path.
func (s *SQLStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &Error{Op: "ping", Err: err}
	}
	return nil
}

const selectColumns = `fingerprint, status, issue_key, issue_id, issue_url, error, run_id, title, created_at, updated_at`

// Lookup returns the entry for fingerprint, or nil when absent.
func (s *SQLStore) Lookup(ctx context.Context, fingerprint string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM ledger_entries WHERE fingerprint = ?`, fingerprint)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "lookup", Fingerprint: fingerprint, Err: err}
	}
	logging.LedgerDebug("lookup %s -> %s", shortFP(fingerprint), e.Status)
	return e, nil
}

// Upsert writes entry in a single statement. An existing row keeps its
// created_at; every other column is replaced.
func (s *SQLStore) Upsert(ctx context.Context, entry Entry) error {
	if err := validate(entry); err != nil {
		return &Error{Op: "upsert", Fingerprint: entry.Fingerprint, Err: err}
	}
	now := s.now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			status = excluded.status,
			issue_key = excluded.issue_key,
			issue_id = excluded.issue_id,
			issue_url = excluded.issue_url,
			error = excluded.error,
			run_id = excluded.run_id,
			title = excluded.title,
			updated_at = excluded.updated_at`,
		entry.Fingerprint, string(entry.Status),
		entry.IssueRef.Key, entry.IssueRef.ID, entry.IssueRef.URL,
		entry.Error, entry.RunID, entry.Title,
		formatTime(entry.CreatedAt), formatTime(entry.UpdatedAt),
	)
	if err != nil {
		return &Error{Op: "upsert", Fingerprint: entry.Fingerprint, Err: err}
	}
	logging.LedgerDebug("upsert %s status=%s", shortFP(entry.Fingerprint), entry.Status)
	return nil
}

// List returns entries with the given status (all when empty), oldest first.
func (s *SQLStore) List(ctx context.Context, status Status) ([]Entry, error) {
	query := `SELECT ` + selectColumns + ` FROM ledger_entries`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, fingerprint`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, &Error{Op: "list", Err: err}
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	return out, nil
}

// Delete removes the entry for fingerprint so the story is created again on
// the next run.
func (s *SQLStore) Delete(ctx context.Context, fingerprint string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return &Error{Op: "delete", Fingerprint: fingerprint, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &Error{Op: "delete", Fingerprint: fingerprint, Err: ErrNotFound}
	}
	logging.Ledger("forgot %s", shortFP(fingerprint))
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(r scanner) (*Entry, error) {
	var (
		e                 Entry
		status            string
		created, updated  string
		key, id, issueURL string
	)
	if err := r.Scan(&e.Fingerprint, &status, &key, &id, &issueURL, &e.Error, &e.RunID, &e.Title, &created, &updated); err != nil {
		return nil, err
	}
	e.Status = Status(status)
	e.IssueRef = gateway.IssueRef{Key: key, ID: id, URL: issueURL}

	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	return &e, nil
}

// timeLayout is fixed width so created_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }
