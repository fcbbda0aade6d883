package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agentjira/internal/ledger"
	"agentjira/internal/report"
)

var ledgerStatus string

// ledgerCmd groups ledger maintenance
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and maintain the idempotence ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries, oldest first",
	RunE:  runLedgerList,
}

var ledgerForgetCmd = &cobra.Command{
	Use:   "forget <fingerprint>",
	Short: "Remove a ledger entry so the story is created again on the next run",
	Long: `Removes the entry for a fingerprint. A unique prefix of at least 8
characters is accepted. The Jira issue itself is not touched.`,
	Args: cobra.ExactArgs(1),
	RunE: runLedgerForget,
}

func init() {
	ledgerListCmd.Flags().StringVar(&ledgerStatus, "status", "", "Only show entries with this status (pending, created, failed)")
	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerForgetCmd)
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	status := ledger.Status(strings.ToLower(ledgerStatus))
	if status != "" && !status.Valid() {
		return fmt.Errorf("invalid status %q (valid: pending, created, failed)", ledgerStatus)
	}
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	l, closeLedger, err := openLedger(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeLedger()

	entries, err := l.List(ctx, status)
	if err != nil {
		return err
	}
	return report.WriteEntries(cmd.OutOrStdout(), entries)
}

func runLedgerForget(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	l, closeLedger, err := openLedger(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeLedger()

	fp, err := resolveFingerprint(ctx, l, args[0])
	if err != nil {
		return err
	}
	if err := l.Delete(ctx, fp); err != nil {
		return err
	}
	logger.Info("Ledger entry removed", zap.String("fingerprint", fp))
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", fp)
	return nil
}

const minFingerprintPrefix = 8

// resolveFingerprint expands a unique prefix to a full fingerprint.
func resolveFingerprint(ctx context.Context, l storeLedger, prefix string) (string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if len(prefix) < minFingerprintPrefix {
		return "", fmt.Errorf("fingerprint prefix must be at least %d characters", minFingerprintPrefix)
	}
	entries, err := l.List(ctx, "")
	if err != nil {
		return "", err
	}
	var matches []string
	for _, e := range entries {
		if strings.HasPrefix(e.Fingerprint, prefix) {
			matches = append(matches, e.Fingerprint)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no ledger entry matches %s: %w", prefix, ledger.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("prefix %s is ambiguous (%d entries)", prefix, len(matches))
	}
}
