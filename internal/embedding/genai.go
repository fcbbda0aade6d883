package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI EMBEDDING ENGINE
// =============================================================================

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client    *genai.Client
	model     string
	queryTask string
}

// Task types understood by the embedding endpoint.
const (
	taskRetrievalQuery     = "RETRIEVAL_QUERY"
	taskRetrievalDocument  = "RETRIEVAL_DOCUMENT"
	taskSemanticSimilarity = "SEMANTIC_SIMILARITY"
	taskQuestionAnswering  = "QUESTION_ANSWERING"
	taskCodeRetrieval      = "CODE_RETRIEVAL_QUERY"
)

// NewGenAIEngine creates a GenAI engine. taskType applies to queries;
// documents are always embedded as RETRIEVAL_DOCUMENT.
func NewGenAIEngine(ctx context.Context, apiKey, model, taskType string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEngine{
		client:    client,
		model:     model,
		queryTask: parseTaskType(taskType),
	}, nil
}

func parseTaskType(s string) string {
	switch s {
	case taskSemanticSimilarity, taskQuestionAnswering, taskCodeRetrieval:
		return s
	default:
		return taskRetrievalQuery
	}
}

// Embed embeds a search query.
func (e *GenAIEngine) Embed(ctx context.Context, query string) ([]float32, error) {
	out, err := e.embed(ctx, []string{query}, e.queryTask)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedDocuments embeds content for indexing in one request.
func (e *GenAIEngine) EmbedDocuments(ctx context.Context, docs []string) ([][]float32, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	return e.embed(ctx, docs, taskRetrievalDocument)
}

func (e *GenAIEngine) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: task,
	})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("GenAI returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// Name returns the engine name.
func (e *GenAIEngine) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}
