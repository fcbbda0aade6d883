package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"agentjira/internal/usage"
)

// WriteUsage renders token usage by provider and model.
func WriteUsage(w io.Writer, stats usage.AggregatedStats) error {
	if stats.Total.Calls == 0 {
		_, err := fmt.Fprintln(w, "No LLM usage recorded.")
		return err
	}
	var rows [][]string
	for _, group := range []struct {
		name   string
		counts map[string]usage.TokenCounts
	}{
		{"provider", stats.ByProvider},
		{"model", stats.ByModel},
	} {
		keys := make([]string, 0, len(group.counts))
		for k := range group.counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rows = append(rows, usageRow(group.name, k, group.counts[k]))
		}
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers("BY", "NAME", "CALLS", "INPUT", "OUTPUT", "TOTAL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintf(w, "%s\n%d calls, %d tokens across %d runs\n",
		t.String(), stats.Total.Calls, stats.Total.Total, len(stats.ByRun))
	return err
}

func usageRow(by, name string, c usage.TokenCounts) []string {
	return []string{
		by,
		name,
		strconv.FormatInt(c.Calls, 10),
		strconv.FormatInt(c.Input, 10),
		strconv.FormatInt(c.Output, 10),
		strconv.FormatInt(c.Total, 10),
	}
}
