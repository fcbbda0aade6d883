// Package ledger records which stories have already produced a tracker
// issue, keyed by content fingerprint, so reruns never create duplicates.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentjira/internal/gateway"
)

// Status is the lifecycle state of an entry.
type Status string

const (
	// StatusPending is written before the tracker call. Finding it later
	// means a prior run was interrupted and the outcome is unknown.
	StatusPending Status = "pending"
	StatusCreated Status = "created"
	StatusFailed  Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCreated, StatusFailed:
		return true
	}
	return false
}

// Entry is one ledger row. IssueRef is set only when Status is created.
type Entry struct {
	Fingerprint string           `json:"fingerprint" yaml:"fingerprint"`
	IssueRef    gateway.IssueRef `json:"issue_ref,omitempty" yaml:"issue_ref,omitempty"`
	Status      Status           `json:"status" yaml:"status"`
	Error       string           `json:"error,omitempty" yaml:"error,omitempty"`
	RunID       string           `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Title       string           `json:"title,omitempty" yaml:"title,omitempty"`
	CreatedAt   time.Time        `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" yaml:"updated_at"`
}

// Ledger is the durable fingerprint store consumed by the pipeline.
// Lookup returns (nil, nil) when no entry exists. Upsert replaces the entry
// for its fingerprint atomically; CreatedAt of an existing row is kept.
type Ledger interface {
	Lookup(ctx context.Context, fingerprint string) (*Entry, error)
	Upsert(ctx context.Context, entry Entry) error
	Ping(ctx context.Context) error
}

// ErrNotFound is returned by Delete when no entry matches.
var ErrNotFound = errors.New("ledger: entry not found")

// Error wraps a storage failure.
type Error struct {
	Op          string
	Fingerprint string
	Err         error
}

func (e *Error) Error() string {
	if e.Fingerprint != "" {
		return fmt.Sprintf("ledger: %s %s: %v", e.Op, shortFP(e.Fingerprint), e.Err)
	}
	return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func validate(e Entry) error {
	if e.Fingerprint == "" {
		return errors.New("empty fingerprint")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	if e.Status != StatusCreated && !e.IssueRef.IsZero() {
		return fmt.Errorf("issue ref set on %s entry", e.Status)
	}
	return nil
}

func shortFP(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
