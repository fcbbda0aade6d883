package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentjira/internal/config"
)

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Zero(t, sim)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestFindTopK(t *testing.T) {
	corpus := [][]float32{
		{0, 1},
		{1, 0},
		{1, 1},
		{1, 2, 3}, // wrong dimension
	}

	got := FindTopK([]float32{1, 0}, corpus, 2)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, 2, got[1].Index)

	assert.Len(t, FindTopK([]float32{1, 0}, corpus, 10), 3)
	assert.Nil(t, FindTopK([]float32{1, 0}, corpus, 0))
}

func TestNewEngine_UnknownProvider(t *testing.T) {
	_, err := NewEngine(context.Background(), config.EmbeddingConfig{Provider: "word2vec"})
	assert.ErrorContains(t, err, "unsupported embedding provider")
}

func TestNewEngine_GenAIRequiresKey(t *testing.T) {
	_, err := NewEngine(context.Background(), config.EmbeddingConfig{Provider: "genai"})
	assert.ErrorContains(t, err, "API key")
}

func TestOllamaEngine(t *testing.T) {
	var gotReq ollamaEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		out := ollamaEmbedResponse{}
		for i := range gotReq.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	engine, err := NewEngine(context.Background(), config.EmbeddingConfig{
		Provider:       "ollama",
		Model:          "nomic-embed-text",
		OllamaEndpoint: srv.URL + "/",
	})
	require.NoError(t, err)
	assert.Equal(t, "ollama:nomic-embed-text", engine.Name())

	vecs, err := engine.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vecs)
	assert.Equal(t, []string{"a", "b"}, gotReq.Input)

	vec, err := engine.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vec)
}

func TestOllamaEngine_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	engine, err := NewOllamaEngine(srv.URL, "")
	require.NoError(t, err)
	_, err = engine.Embed(context.Background(), "q")
	assert.ErrorContains(t, err, "status 404")
}

func TestParseTaskType(t *testing.T) {
	assert.Equal(t, taskRetrievalQuery, parseTaskType(""))
	assert.Equal(t, taskRetrievalQuery, parseTaskType("CLUSTERING"))
	assert.Equal(t, taskQuestionAnswering, parseTaskType("QUESTION_ANSWERING"))
}
