package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"agentjira/internal/ledger"
)

func ledgerStatusStyle(s ledger.Status) lipgloss.Style {
	switch s {
	case ledger.StatusCreated:
		return cellStyle.Foreground(colorSuccess)
	case ledger.StatusFailed:
		return cellStyle.Foreground(colorDanger)
	case ledger.StatusPending:
		return cellStyle.Foreground(colorWarning)
	}
	return cellStyle
}

// WriteEntries renders ledger entries as a table.
func WriteEntries(w io.Writer, entries []ledger.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "Ledger is empty.")
		return err
	}
	rows := make([][]string, len(entries))
	for i, e := range entries {
		issue := e.IssueRef.Key
		if issue == "" {
			issue = "-"
		}
		rows[i] = []string{
			e.Fingerprint[:min(12, len(e.Fingerprint))],
			string(e.Status),
			issue,
			truncate(e.Title),
			e.UpdatedAt.Local().Format("2006-01-02 15:04"),
			truncate(e.Error),
		}
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers("FINGERPRINT", "STATUS", "ISSUE", "TITLE", "UPDATED", "ERROR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(entries) {
				return ledgerStatusStyle(entries[row].Status)
			}
			return cellStyle
		})
	_, err := fmt.Fprintf(w, "%s\n%d entries\n", t.String(), len(entries))
	return err
}
