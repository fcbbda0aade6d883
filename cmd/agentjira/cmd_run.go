package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agentjira/internal/pipeline"
	"agentjira/internal/report"
)

var (
	runDryRun      bool
	runMaxRetries  int
	runConcurrency int
	runOutput      string
	runPreview     bool
	runEphemeral   bool
)

// runCmd processes a stories file
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Expand the stories in a file and create Jira issues",
	Long: `Runs every story through retrieval (when enabled), LLM expansion and
issue creation. Stories already recorded as created in the ledger are
skipped, so the command is safe to repeat.

With --dry-run nothing is created and the ledger is not touched; use
--preview to see each merged issue rendered as Markdown.`,
	Example: `  agentjira run -c stories.yaml --dry-run --preview
  agentjira run -c stories.yaml --concurrency 4 --output json`,
	RunE: runStories,
}

func init() {
	runCmd.Flags().StringVarP(&storiesPath, "config", "c", "", "Stories file (required)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Expand and merge without creating issues")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", -1, "Retries per gateway call (default from settings)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Stories processed in parallel (default from settings)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "text", "Report format: text, json, yaml")
	runCmd.Flags().BoolVar(&runPreview, "preview", false, "Render merged issues as Markdown (dry run only)")
	runCmd.Flags().BoolVar(&runEphemeral, "ephemeral", false, "Use an in-memory ledger (no deduplication across runs)")
	_ = runCmd.MarkFlagRequired("config")
}

func runStories(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	result, err := executeRun(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if result.HasFailures() {
		return fmt.Errorf("%d of %d stories failed", result.Count(pipeline.StatusFailed), len(result.Outcomes))
	}
	return nil
}

// executeRun loads settings and stories, runs the pipeline and writes the
// report to out.
func executeRun(ctx context.Context, out io.Writer) (*pipeline.RunResult, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, err
	}

	dry := runDryRun || cfg.Pipeline.DryRun
	maxRetries := cfg.Pipeline.MaxRetries
	if runMaxRetries >= 0 {
		maxRetries = runMaxRetries
	}
	concurrency := cfg.Pipeline.Concurrency
	if runConcurrency > 0 {
		concurrency = runConcurrency
	}

	if dry {
		err = cfg.ValidateForDryRun()
	} else {
		err = cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	batch, err := loadStories(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded stories", zap.String("file", batch.Source), zap.Int("count", len(batch.Stories)))

	l, closeLedger, err := openLedger(ctx, cfg, runEphemeral)
	if err != nil {
		return nil, err
	}
	defer closeLedger()

	engine, cleanup, err := buildEngine(ctx, cfg, l, dry, concurrency)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	ctx, saveUsage := withUsage(ctx, cfg)
	defer saveUsage()

	result, err := engine.Run(ctx, batch, pipeline.RunOptions{DryRun: dry, MaxRetries: maxRetries})
	if err != nil {
		return nil, err
	}
	logger.Info("Run finished",
		zap.String("run_id", result.RunID),
		zap.Bool("dry_run", dry),
		zap.Int("created", result.Count(pipeline.StatusCreated)),
		zap.Int("skipped", result.Count(pipeline.StatusSkipped)),
		zap.Int("failed", result.Count(pipeline.StatusFailed)),
		zap.Duration("duration", result.Duration()))

	if err := report.Write(out, result, runOutput); err != nil {
		return result, err
	}
	if runPreview && dry {
		for _, o := range result.Outcomes {
			if o.Fields == nil {
				continue
			}
			rendered, err := report.RenderPreview(*o.Fields, 100, "")
			if err != nil {
				return result, err
			}
			fmt.Fprint(out, rendered)
		}
	}
	return result, nil
}
