// Package gateway defines the capabilities the pipeline consumes from the
// outside world: context retrieval, LLM expansion and issue creation.
package gateway

import (
	"context"

	"agentjira/internal/stories"
)

// ContextSnippet is a retrieved piece of reference material.
type ContextSnippet struct {
	ID      string  `json:"id" yaml:"id"`
	Content string  `json:"content" yaml:"content"`
	Source  string  `json:"source,omitempty" yaml:"source,omitempty"`
	Score   float64 `json:"score" yaml:"score"`
}

// ExpandedContent is the structured result of expanding a story.
type ExpandedContent struct {
	Summary            string   `json:"summary"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	TechnicalNotes     string   `json:"technical_notes,omitempty"`
}

// IssueFields is the merged payload handed to the tracker.
type IssueFields struct {
	Project     string   `json:"project" yaml:"project"`
	Summary     string   `json:"summary" yaml:"summary"`
	Description string   `json:"description" yaml:"description"`
	IssueType   string   `json:"issue_type" yaml:"issue_type"`
	Priority    string   `json:"priority,omitempty" yaml:"priority,omitempty"`
	Labels      []string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Components  []string `json:"components,omitempty" yaml:"components,omitempty"`
	Epic        string   `json:"epic,omitempty" yaml:"epic,omitempty"`
	Fingerprint string   `json:"fingerprint" yaml:"fingerprint"`
}

// IssueRef identifies a created issue.
type IssueRef struct {
	Key string `json:"key" yaml:"key"`
	ID  string `json:"id,omitempty" yaml:"id,omitempty"`
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

// IsZero reports whether the ref is unset.
func (r IssueRef) IsZero() bool { return r.Key == "" && r.ID == "" && r.URL == "" }

// Retriever returns context snippets relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]ContextSnippet, error)
}

// Expander turns a story outline plus context into detailed content.
type Expander interface {
	Expand(ctx context.Context, story stories.Story, snippets []ContextSnippet) (ExpandedContent, error)
}

// IssueCreator creates one issue per call. It is the only side-effecting
// capability.
type IssueCreator interface {
	CreateIssue(ctx context.Context, fields IssueFields) (IssueRef, error)
}

// IssueFinder is optionally implemented by an IssueCreator that can look up
// an issue previously created for the same fingerprint.
type IssueFinder interface {
	FindIssue(ctx context.Context, fields IssueFields) (IssueRef, bool, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query string) ([]ContextSnippet, error)

// Retrieve calls f.
func (f RetrieverFunc) Retrieve(ctx context.Context, query string) ([]ContextSnippet, error) {
	return f(ctx, query)
}
