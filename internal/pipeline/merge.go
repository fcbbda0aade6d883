package pipeline

import (
	"strings"

	"agentjira/internal/gateway"
	"agentjira/internal/stories"
)

// Merge combines the effective story fields with expanded content into the
// payload for the issue tracker. Neither input is modified.
func Merge(eff stories.Effective, content gateway.ExpandedContent, fingerprint string) gateway.IssueFields {
	return gateway.IssueFields{
		Project:     eff.Project,
		Summary:     eff.Title,
		Description: BuildDescription(eff.Description, content),
		IssueType:   eff.IssueType,
		Priority:    string(eff.Priority),
		Labels:      append([]string(nil), eff.Labels...),
		Components:  append([]string(nil), eff.Components...),
		Epic:        eff.Epic,
		Fingerprint: fingerprint,
	}
}

// BuildDescription renders the Markdown issue body. The original outline is
// used when the model returned no summary.
func BuildDescription(outline string, content gateway.ExpandedContent) string {
	var b strings.Builder
	summary := strings.TrimSpace(content.Summary)
	if summary == "" {
		summary = strings.TrimSpace(outline)
	}
	b.WriteString(summary)

	if len(content.AcceptanceCriteria) > 0 {
		b.WriteString("\n\n## Acceptance Criteria\n")
		for _, c := range content.AcceptanceCriteria {
			b.WriteString("\n- [ ] ")
			b.WriteString(strings.TrimSpace(c))
		}
	}
	if notes := strings.TrimSpace(content.TechnicalNotes); notes != "" {
		b.WriteString("\n\n## Technical Notes\n\n")
		b.WriteString(notes)
	}
	return b.String()
}
