package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agentjira/internal/stories"
)

var watchDebounce time.Duration

// watchCmd reruns the pipeline whenever the stories file changes
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the stories file now and again every time it changes",
	Long: `Watches the stories file and reruns it after each change. Stories that
were already created are skipped by the ledger, so only new or edited stories
produce issues. Stop with Ctrl-C.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&storiesPath, "config", "c", "", "Stories file (required)")
	watchCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Expand and merge without creating issues")
	watchCmd.Flags().StringVarP(&runOutput, "output", "o", "text", "Report format: text, json, yaml")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Quiet period before rerunning after a change")
	_ = watchCmd.MarkFlagRequired("config")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	target, err := filepath.Abs(storiesPath)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	// Editors often replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	out := cmd.OutOrStdout()
	runOnce := func() {
		if _, err := executeRun(ctx, out); err != nil {
			var cfgErr *stories.ConfigError
			if errors.As(err, &cfgErr) {
				logger.Warn("Stories file invalid, waiting for the next change", zap.Error(err))
				return
			}
			logger.Error("Run failed", zap.Error(err))
		}
	}

	logger.Info("Watching stories file", zap.String("path", target))
	runOnce()

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Watch stopped")
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			logger.Debug("Stories file changed", zap.String("op", ev.Op.String()))
			timer.Reset(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", zap.Error(err))
		case <-timer.C:
			fmt.Fprintf(out, "\n%s changed, rerunning\n", filepath.Base(target))
			runOnce()
		}
	}
}
