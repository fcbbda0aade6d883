// Package stories loads and validates the batch of work items that the
// pipeline expands into tracker issues. A loaded Batch is read-only.
package stories

import (
	"fmt"
	"strings"
)

// DefaultIssueType is used when a story does not name one.
const DefaultIssueType = "Story"

// Priority is the optional story priority.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// Priorities lists the recognized values in ascending order.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// ParsePriority matches s case-insensitively against the recognized values
// and returns the canonical spelling.
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimSpace(s)
	for _, p := range Priorities {
		if strings.EqualFold(s, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown priority %q (valid: Low, Medium, High, Critical)", s)
}

// Global holds batch-wide defaults. Empty strings mean absent.
type Global struct {
	Project    string
	Labels     []string
	Components []string
	Epic       string
}

// Story is a single work item.
type Story struct {
	Title       string
	Description string
	Priority    Priority // empty when unset
	Labels      []string
	Components  []string
	IssueType   string
	Project     string // overrides Global.Project
	Epic        string // overrides Global.Epic
}

// Batch is a validated stories file.
type Batch struct {
	Source  string
	Global  Global
	Stories []Story
}

// Effective returns the derived fields of story i.
func (b *Batch) Effective(i int) Effective {
	return Resolve(b.Global, b.Stories[i])
}
