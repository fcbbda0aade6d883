package pipeline

import (
	"time"

	"agentjira/internal/gateway"
)

// Stage is a step of the per-item state machine.
type Stage string

const (
	StageNotStarted Stage = "not_started"
	StageRetrieving Stage = "retrieving"
	StageExpanding  Stage = "expanding"
	StageMerging    Stage = "merging"
	StageDryRunDone Stage = "dry_run_done"
	StageCreating   Stage = "creating"
	StageCreated    Stage = "created"
	StageFailed     Stage = "failed"
)

// StageEvent reports a state transition of one item.
type StageEvent struct {
	RunID       string
	Index       int
	Fingerprint string
	Stage       Stage
	Attempt     int
	Err         error
	Time        time.Time
}

// Status is the terminal result of one item.
type Status string

const (
	StatusCreated Status = "created"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
	StatusDryRun  Status = "dry-run"
)

// Skip reasons.
const (
	ReasonAlreadyCreated = "already created"
	ReasonRecovered      = "recovered from interrupted run"
	ReasonCancelled      = "cancelled"
)

// ItemOutcome is the result for the story at Index.
type ItemOutcome struct {
	Index       int
	Title       string
	Fingerprint string
	Status      Status
	Reason      string
	IssueRef    gateway.IssueRef
	Err         error
	// Attempts counts invocations of the last gateway stage that ran.
	Attempts int
	// Stage is the last stage the item reached.
	Stage Stage
	// Fields holds the merged issue for dry-run and created items.
	Fields *gateway.IssueFields
}

// RunResult lists one outcome per story, in input order.
type RunResult struct {
	RunID      string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []ItemOutcome
}

// Count returns how many outcomes have status s.
func (r *RunResult) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// HasFailures reports whether any item failed.
func (r *RunResult) HasFailures() bool {
	return r.Count(StatusFailed) > 0
}

// Duration is the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
