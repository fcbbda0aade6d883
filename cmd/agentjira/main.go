package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agentjira/internal/config"
	"agentjira/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	verbose      bool
	settingsPath string
	timeout      time.Duration

	// Stories file shared by run, validate, watch and fingerprint
	storiesPath string

	// Loaded once per process by PersistentPreRunE
	settings *config.Config

	// Logger
	logger = zap.NewNop()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "agentjira",
	Short: "Expand story outlines with an LLM and file them as Jira issues",
	Long: `agentjira reads a stories file, expands every outline into a detailed
issue with an LLM (optionally grounded in a local knowledge base) and creates
the issues in Jira.

Every created issue is recorded in a ledger keyed by a content fingerprint, so
running the same file again never creates duplicates.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		lc := cfg.Logging.ToLogging()
		if verbose {
			lc.Level = "debug"
		}
		if err := logging.Initialize(lc); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logging.L()
		logging.Boot("agentjira %s starting: command=%s settings=%s", version, cmd.CommandPath(), settingsPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agentjira version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "agentjira %s\n", version)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", config.DefaultPath(), "Settings file (YAML, or TOML with a .toml extension)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Overall operation timeout (0 = none)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadSettings returns the process settings, loading them on first use.
func loadSettings() (*config.Config, error) {
	if settings != nil {
		return settings, nil
	}
	cfg, err := config.Load(settingsPath)
	if err != nil {
		return nil, err
	}
	settings = cfg
	return cfg, nil
}

// commandContext is cancelled on SIGINT/SIGTERM and after --timeout.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}
