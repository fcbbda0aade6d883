package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"agentjira/internal/config"
	"agentjira/internal/embedding"
	"agentjira/internal/expansion"
	"agentjira/internal/gateway"
	"agentjira/internal/jira"
	"agentjira/internal/ledger"
	"agentjira/internal/pipeline"
	"agentjira/internal/retrieval"
	"agentjira/internal/stories"
	"agentjira/internal/usage"
)

// Constructors for the outside world. Tests replace them with fakes.
var (
	newExpander = func(ctx context.Context, cfg *config.Config) (gateway.Expander, error) {
		return expansion.New(ctx, cfg.LLM, cfg.GetTimeout())
	}
	newIssueCreator = func(cfg *config.Config) (gateway.IssueCreator, error) {
		return jira.New(jira.FromSettings(cfg.Jira, cfg.GetTimeout()))
	}
	newEmbeddingEngine = func(ctx context.Context, cfg *config.Config) (embedding.Engine, error) {
		return embedding.NewEngine(ctx, cfg.Retrieval.Embedding)
	}
)

// storeLedger is a ledger that also supports the maintenance commands.
type storeLedger interface {
	ledger.Ledger
	List(ctx context.Context, status ledger.Status) ([]ledger.Entry, error)
	Delete(ctx context.Context, fingerprint string) error
}

func openLedger(ctx context.Context, cfg *config.Config, ephemeral bool) (storeLedger, func(), error) {
	if ephemeral {
		logger.Warn("Using an in-memory ledger; reruns will not be deduplicated")
		return ledger.NewMemory(), func() {}, nil
	}
	l, err := ledger.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	logger.Debug("Ledger opened", zap.String("path", l.Path()), zap.String("driver", cfg.Ledger.Driver))
	return l, func() { _ = l.Close() }, nil
}

func openVectorStore(ctx context.Context, cfg *config.Config) (*retrieval.VectorStore, error) {
	engine, err := newEmbeddingEngine(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding engine: %w", err)
	}
	vs, err := retrieval.OpenVectorStore(ctx, cfg.Retrieval.Driver, cfg.Retrieval.DatabasePath, engine, retrieval.DefaultCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	return vs, nil
}

func loadStories(cfg *config.Config) (*stories.Batch, error) {
	if storiesPath == "" {
		return nil, fmt.Errorf("no stories file given (use -c/--config)")
	}
	return stories.Load(storiesPath, stories.WithDefaultProject(cfg.Jira.ProjectKey))
}

// buildEngine wires the pipeline from settings. The returned cleanup closes
// any stores that were opened.
func buildEngine(ctx context.Context, cfg *config.Config, l ledger.Ledger, dry bool, concurrency int) (*pipeline.Engine, func(), error) {
	cleanup := func() {}

	expander, err := newExpander(ctx, cfg)
	if err != nil {
		return nil, cleanup, err
	}

	var issues gateway.IssueCreator
	if !dry {
		if issues, err = newIssueCreator(cfg); err != nil {
			return nil, cleanup, err
		}
	}

	base, max := cfg.GetBackoff()
	opts := []pipeline.Option{
		pipeline.WithConcurrency(concurrency),
		pipeline.WithCallTimeout(cfg.GetTimeout()),
		pipeline.WithBackoff(base, max),
	}
	if verbose {
		opts = append(opts, pipeline.WithObserver(func(ev pipeline.StageEvent) {
			logger.Debug("Stage",
				zap.String("run_id", ev.RunID),
				zap.Int("item", ev.Index),
				zap.String("stage", string(ev.Stage)),
				zap.Int("attempt", ev.Attempt),
				zap.Error(ev.Err))
		}))
	}

	if cfg.Retrieval.Enabled {
		vs, err := openVectorStore(ctx, cfg)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() { _ = vs.Close() }
		opts = append(opts,
			pipeline.WithRetriever(retrieval.NewRetriever(vs, cfg.Retrieval.TopK)),
			pipeline.WithQuery(retrieval.Query))
	}

	engine, err := pipeline.New(l, expander, issues, opts...)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return engine, cleanup, nil
}

// stateDir is the directory holding the ledger; usage accounting lives beside it.
func stateDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Ledger.Path)
}

// withUsage attaches a token usage tracker to ctx. The returned func saves it.
func withUsage(ctx context.Context, cfg *config.Config) (context.Context, func()) {
	tracker, err := usage.NewTracker(stateDir(cfg))
	if err != nil {
		logger.Warn("Usage tracking disabled", zap.Error(err))
		return ctx, func() {}
	}
	return usage.NewContext(ctx, tracker), func() {
		if err := tracker.Save(); err != nil {
			logger.Warn("Failed to save usage", zap.String("path", tracker.Path()), zap.Error(err))
		}
	}
}
