package main

import (
	"github.com/spf13/cobra"

	"agentjira/internal/report"
	"agentjira/internal/usage"
)

// usageCmd shows accumulated LLM token usage
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show LLM token usage recorded by previous runs",
	RunE:  runUsage,
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	tracker, err := usage.NewTracker(stateDir(cfg))
	if err != nil {
		return err
	}
	return report.WriteUsage(cmd.OutOrStdout(), tracker.Stats())
}
