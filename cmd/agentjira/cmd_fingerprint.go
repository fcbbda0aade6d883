package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentjira/internal/ledger"
)

var fingerprintWithStatus bool

// fingerprintCmd prints the idempotence key of every story
var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the fingerprint of every story in a file",
	RunE:  runFingerprint,
}

func init() {
	fingerprintCmd.Flags().StringVarP(&storiesPath, "config", "c", "", "Stories file (required)")
	fingerprintCmd.Flags().BoolVar(&fingerprintWithStatus, "status", false, "Also show the ledger status of each story")
	_ = fingerprintCmd.MarkFlagRequired("config")
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	batch, err := loadStories(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	var l ledger.Ledger
	if fingerprintWithStatus {
		sl, closeLedger, err := openLedger(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer closeLedger()
		l = sl
	}

	out := cmd.OutOrStdout()
	for i, s := range batch.Stories {
		fp := batch.Effective(i).Fingerprint()
		if l == nil {
			fmt.Fprintf(out, "%s  %s\n", fp, s.Title)
			continue
		}
		status := "new"
		entry, err := l.Lookup(ctx, fp)
		if err != nil {
			return err
		}
		if entry != nil {
			status = string(entry.Status)
			if entry.IssueRef.Key != "" {
				status += " " + entry.IssueRef.Key
			}
		}
		fmt.Fprintf(out, "%s  %-16s %s\n", fp, status, s.Title)
	}
	return nil
}
