package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// validateCmd checks a stories file without calling any service
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a stories file and the settings needed to run it",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&storiesPath, "config", "c", "", "Stories file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	batch, err := loadStories(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d stories OK\n", batch.Source, len(batch.Stories))
	for i, s := range batch.Stories {
		eff := batch.Effective(i)
		fmt.Fprintf(out, "  %d. [%s] %s (%s", i+1, eff.Project, s.Title, eff.IssueType)
		if eff.Priority != "" {
			fmt.Fprintf(out, ", %s", eff.Priority)
		}
		fmt.Fprint(out, ")")
		if len(eff.Labels) > 0 {
			fmt.Fprintf(out, " labels=%s", strings.Join(eff.Labels, ","))
		}
		fmt.Fprintln(out)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Warning: settings not ready for a real run: %v\n", err)
	} else {
		fmt.Fprintln(out, "Settings ready for a real run.")
	}
	return nil
}
