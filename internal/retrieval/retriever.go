package retrieval

import (
	"context"
	"fmt"
	"strings"

	"agentjira/internal/gateway"
	"agentjira/internal/stories"
)

// Searcher is the read side of a VectorStore.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]gateway.ContextSnippet, error)
}

// Retriever adapts a Searcher to gateway.Retriever.
type Retriever struct {
	searcher Searcher
	topK     int
	minScore float64
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithMinScore drops snippets scoring below min.
func WithMinScore(min float64) RetrieverOption {
	return func(r *Retriever) { r.minScore = min }
}

// NewRetriever returns a Retriever yielding at most topK snippets.
func NewRetriever(s Searcher, topK int, opts ...RetrieverOption) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	r := &Retriever{searcher: s, topK: topK, minScore: -1}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve implements gateway.Retriever. Failures are reported as
// retrieval errors, retryable when they look transient.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]gateway.ContextSnippet, error) {
	snippets, err := r.searcher.Search(ctx, query, r.topK)
	if err != nil {
		return nil, gateway.RetrievalError(err, gateway.IsRetryable(err))
	}
	out := snippets[:0]
	for _, s := range snippets {
		if s.Score >= r.minScore {
			out = append(out, s)
		}
	}
	return out, nil
}

// Query builds the retrieval query for a story: title, description and
// component names.
func Query(s stories.Story) string {
	var b strings.Builder
	b.WriteString(s.Title)
	if s.Description != "" {
		b.WriteString("\n")
		b.WriteString(s.Description)
	}
	if len(s.Components) > 0 {
		fmt.Fprintf(&b, "\nComponents: %s", strings.Join(s.Components, ", "))
	}
	return b.String()
}
