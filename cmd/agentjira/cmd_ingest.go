package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agentjira/internal/retrieval"
)

var (
	ingestChunkSize int
	ingestReset     bool
)

// ingestCmd loads reference documents into the retrieval store
var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Add documents to the knowledge base used for retrieval",
	Long: `Splits Markdown and text files into chunks, embeds them and stores them
in the vector database named by retrieval.database_path. Directories are
walked recursively; hidden directories are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestChunkSize, "chunk-size", retrieval.DefaultChunkSize, "Maximum characters per chunk")
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", false, "Delete existing documents before ingesting")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	vs, err := openVectorStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer vs.Close()

	if ingestReset {
		if err := vs.DeleteCollection(ctx); err != nil {
			return err
		}
		logger.Info("Knowledge base cleared", zap.String("path", cfg.Retrieval.DatabasePath))
	}

	stats, err := retrieval.Ingest(ctx, vs, args, ingestChunkSize)
	if err != nil {
		return err
	}
	total, err := vs.Count(ctx)
	if err != nil {
		return err
	}
	logger.Info("Ingest complete", zap.Int("files", stats.Files), zap.Int("documents", stats.Documents), zap.Int("total", total))
	fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunks from %d files (%d in knowledge base)\n", stats.Documents, stats.Files, total)
	if !cfg.Retrieval.Enabled {
		fmt.Fprintln(cmd.OutOrStdout(), "Note: retrieval.enabled is false; runs will not use the knowledge base.")
	}
	return nil
}
