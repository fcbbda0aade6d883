// Package report renders pipeline results for people (a styled table) and
// for machines (JSON or YAML documents).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"agentjira/internal/gateway"
	"agentjira/internal/logging"
	"agentjira/internal/pipeline"
)

// Summary holds per-status counts.
type Summary struct {
	Total   int `json:"total" yaml:"total"`
	Created int `json:"created" yaml:"created"`
	Skipped int `json:"skipped" yaml:"skipped"`
	Failed  int `json:"failed" yaml:"failed"`
	DryRun  int `json:"dry_run" yaml:"dry_run"`
}

// Summarize counts outcomes by status.
func Summarize(r *pipeline.RunResult) Summary {
	s := Summary{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		switch o.Status {
		case pipeline.StatusCreated:
			s.Created++
		case pipeline.StatusSkipped:
			s.Skipped++
		case pipeline.StatusFailed:
			s.Failed++
		case pipeline.StatusDryRun:
			s.DryRun++
		}
	}
	return s
}

// String renders the summary as one line.
func (s Summary) String() string {
	line := fmt.Sprintf("%d total: %d created, %d skipped, %d failed", s.Total, s.Created, s.Skipped, s.Failed)
	if s.DryRun > 0 {
		line += fmt.Sprintf(", %d dry-run", s.DryRun)
	}
	return line
}

// Item is the machine-readable form of one outcome.
type Item struct {
	Index       int                  `json:"index" yaml:"index"`
	Title       string               `json:"title" yaml:"title"`
	Fingerprint string               `json:"fingerprint" yaml:"fingerprint"`
	Status      pipeline.Status      `json:"status" yaml:"status"`
	Reason      string               `json:"reason,omitempty" yaml:"reason,omitempty"`
	Issue       *gateway.IssueRef    `json:"issue,omitempty" yaml:"issue,omitempty"`
	Error       string               `json:"error,omitempty" yaml:"error,omitempty"`
	Attempts    int                  `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Stage       pipeline.Stage       `json:"stage" yaml:"stage"`
	Fields      *gateway.IssueFields `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Document is the machine-readable form of a run.
type Document struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	DryRun     bool      `json:"dry_run" yaml:"dry_run"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	DurationMS int64     `json:"duration_ms" yaml:"duration_ms"`
	Summary    Summary   `json:"summary" yaml:"summary"`
	Items      []Item    `json:"items" yaml:"items"`
}

// NewDocument converts a result. Items keep input order.
func NewDocument(r *pipeline.RunResult) Document {
	doc := Document{
		RunID:      r.RunID,
		DryRun:     r.DryRun,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMS: r.Duration().Milliseconds(),
		Summary:    Summarize(r),
		Items:      make([]Item, len(r.Outcomes)),
	}
	for i, o := range r.Outcomes {
		it := Item{
			Index:       o.Index,
			Title:       o.Title,
			Fingerprint: o.Fingerprint,
			Status:      o.Status,
			Reason:      o.Reason,
			Attempts:    o.Attempts,
			Stage:       o.Stage,
			Fields:      o.Fields,
		}
		if !o.IssueRef.IsZero() {
			ref := o.IssueRef
			it.Issue = &ref
		}
		if o.Err != nil {
			it.Error = o.Err.Error()
		}
		doc.Items[i] = it
	}
	return doc
}

// WriteJSON writes the run as indented JSON.
func WriteJSON(w io.Writer, r *pipeline.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewDocument(r))
}

// WriteYAML writes the run as YAML.
func WriteYAML(w io.Writer, r *pipeline.RunResult) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewDocument(r)); err != nil {
		return err
	}
	return enc.Close()
}

// Write renders r in the named format: text, json or yaml.
func Write(w io.Writer, r *pipeline.RunResult, format string) error {
	logging.Get(logging.CategoryReport).Debug("Writing %s report for run %s (%d items)", format, r.RunID, len(r.Outcomes))
	switch format {
	case "", "text":
		return WriteText(w, r)
	case "json":
		return WriteJSON(w, r)
	case "yaml", "yml":
		return WriteYAML(w, r)
	default:
		return fmt.Errorf("report: unknown format %q (valid: text, json, yaml)", format)
	}
}
