// Package embedding turns text into vectors for the retrieval store.
// Backends: Google GenAI (cloud) and Ollama (local).
package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"

	"agentjira/internal/config"
	"agentjira/internal/logging"
)

// =============================================================================
// ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings. Embed is used for search queries,
// EmbedDocuments for content being indexed; backends that distinguish the
// two (GenAI task types) embed them differently.
type Engine interface {
	Embed(ctx context.Context, query string) ([]float32, error)
	EmbedDocuments(ctx context.Context, docs []string) ([][]float32, error)
	Name() string
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine creates an engine from the retrieval embedding settings.
func NewEngine(ctx context.Context, cfg config.EmbeddingConfig) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.EmbeddingDebug("Engine config: provider=%s model=%s task_type=%s", cfg.Provider, cfg.Model, cfg.TaskType)

	var (
		engine Engine
		err    error
	)
	switch cfg.Provider {
	case "genai", "":
		engine, err = NewGenAIEngine(ctx, cfg.APIKey, cfg.Model, cfg.TaskType)
	case "ollama":
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.Model)
	default:
		err = fmt.Errorf("unsupported embedding provider: %s (use 'genai' or 'ollama')", cfg.Provider)
	}
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Embedding("Embedding engine ready: %s", engine.Name())
	return engine, nil
}

// =============================================================================
// SIMILARITY
// =============================================================================

// CosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. A zero vector has similarity 0 with everything.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

// SimilarityResult is one ranked corpus entry.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// FindTopK ranks corpus against query and returns at most k results, best
// first. Vectors of the wrong dimension are skipped. Ties keep corpus order.
func FindTopK(query []float32, corpus [][]float32, k int) []SimilarityResult {
	if k <= 0 {
		return nil
	}

	results := make([]SimilarityResult, 0, len(corpus))
	skipped := 0
	for i, vec := range corpus {
		sim, err := CosineSimilarity(query, vec)
		if err != nil {
			skipped++
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: sim})
	}
	if skipped > 0 {
		logging.Get(logging.CategoryEmbedding).Warn("FindTopK: skipped %d vectors due to dimension mismatch", skipped)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}
