package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"agentjira/internal/gateway"
	"agentjira/internal/pipeline"
)

var (
	colorSuccess = lipgloss.Color("#8BC34A")
	colorDanger  = lipgloss.Color("#e53935")
	colorWarning = lipgloss.Color("#FFC107")
	colorInfo    = lipgloss.Color("#2196F3")
	colorBorder  = lipgloss.Color("#2a3850")

	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

const maxCellWidth = 60

func statusStyle(s pipeline.Status) lipgloss.Style {
	st := cellStyle
	switch s {
	case pipeline.StatusCreated:
		return st.Foreground(colorSuccess)
	case pipeline.StatusFailed:
		return st.Foreground(colorDanger).Bold(true)
	case pipeline.StatusSkipped:
		return st.Foreground(colorWarning)
	case pipeline.StatusDryRun:
		return st.Foreground(colorInfo)
	}
	return st
}

// detail explains an outcome in one cell.
func detail(o pipeline.ItemOutcome) string {
	switch {
	case o.Err != nil:
		return truncate(fmt.Sprintf("%s: %v", o.Stage, o.Err))
	case o.Reason != "":
		return o.Reason
	case o.Status == pipeline.StatusDryRun && o.Fields != nil:
		return fmt.Sprintf("would create %s in %s", o.Fields.IssueType, o.Fields.Project)
	}
	return ""
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxCellWidth {
		return s[:maxCellWidth-3] + "..."
	}
	return s
}

// WriteText renders a table of outcomes followed by a summary line.
func WriteText(w io.Writer, r *pipeline.RunResult) error {
	rows := make([][]string, len(r.Outcomes))
	for i, o := range r.Outcomes {
		issue := o.IssueRef.Key
		if issue == "" {
			issue = "-"
		}
		rows[i] = []string{
			fmt.Sprint(o.Index + 1),
			string(o.Status),
			truncate(o.Title),
			issue,
			detail(o),
		}
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers("#", "STATUS", "TITLE", "ISSUE", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(r.Outcomes) {
				return statusStyle(r.Outcomes[row].Status)
			}
			return cellStyle
		})

	heading := "Run " + r.RunID
	if r.DryRun {
		heading += " (dry run)"
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n%s in %v\n",
		titleStyle.Render(heading),
		t.String(),
		Summarize(r),
		r.Duration().Round(time.Millisecond))
	return err
}

// PreviewMarkdown renders merged issue fields as a Markdown document.
func PreviewMarkdown(f gateway.IssueFields) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", f.Summary)
	fmt.Fprintf(&b, "- **Project:** %s\n", f.Project)
	fmt.Fprintf(&b, "- **Type:** %s\n", f.IssueType)
	if f.Priority != "" {
		fmt.Fprintf(&b, "- **Priority:** %s\n", f.Priority)
	}
	if len(f.Labels) > 0 {
		fmt.Fprintf(&b, "- **Labels:** %s\n", strings.Join(f.Labels, ", "))
	}
	if len(f.Components) > 0 {
		fmt.Fprintf(&b, "- **Components:** %s\n", strings.Join(f.Components, ", "))
	}
	if f.Epic != "" {
		fmt.Fprintf(&b, "- **Epic:** %s\n", f.Epic)
	}
	b.WriteString("\n---\n\n")
	b.WriteString(f.Description)
	b.WriteString("\n")
	return b.String()
}

// RenderPreview renders the Markdown preview for a terminal. An empty style
// picks one from the terminal background.
func RenderPreview(f gateway.IssueFields, width int, style string) (string, error) {
	if width <= 0 {
		width = 80
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStylePath(style))
	}
	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("report: create renderer: %w", err)
	}
	out, err := renderer.Render(PreviewMarkdown(f))
	if err != nil {
		return "", fmt.Errorf("report: render preview: %w", err)
	}
	return out, nil
}
