package expansion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"agentjira/internal/config"
	"agentjira/internal/gateway"
	"agentjira/internal/stories"
	"agentjira/internal/usage"
)

var story = stories.Story{
	Title:       "User Authentication System",
	Description: "Implement secure login",
	Priority:    stories.PriorityHigh,
	Labels:      []string{"security"},
	Components:  []string{"auth"},
	IssueType:   "Story",
}

const modelJSON = `{"summary":"As a user, I want to log in so that my data is private.","acceptance_criteria":["Valid credentials log in","Invalid credentials show an error"],"technical_notes":"Use bcrypt."}`

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(story, []gateway.ContextSnippet{
		{ID: "doc1", Content: "Passwords are hashed with bcrypt.", Source: "security.md"},
		{ID: "doc2", Content: strings.Repeat("a", maxSnippetChars+10)},
	})
	assert.Contains(t, p, "Title: User Authentication System")
	assert.Contains(t, p, "Priority: High")
	assert.Contains(t, p, "Labels: security")
	assert.Contains(t, p, "[1] (security.md)")
	assert.Contains(t, p, "[2] (doc2)")
	assert.Contains(t, p, strings.Repeat("a", maxSnippetChars)+"...")

	bare := BuildPrompt(stories.Story{Title: "t", Description: "d"}, nil)
	assert.Contains(t, bare, "Priority: Medium")
	assert.Contains(t, bare, "Components: None")
	assert.NotContains(t, bare, "Related context")
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want gateway.ExpandedContent
	}{
		{
			name: "bare json",
			in:   modelJSON,
			want: gateway.ExpandedContent{
				Summary:            "As a user, I want to log in so that my data is private.",
				AcceptanceCriteria: []string{"Valid credentials log in", "Invalid credentials show an error"},
				TechnicalNotes:     "Use bcrypt.",
			},
		},
		{
			name: "fenced json with chatter",
			in:   "Here you go:\n```json\n{\"summary\":\"S\",\"acceptance_criteria\":\"one\"}\n```\nThanks",
			want: gateway.ExpandedContent{Summary: "S", AcceptanceCriteria: []string{"one"}},
		},
		{
			name: "technical notes as list",
			in:   `{"summary":"S","acceptance_criteria":[],"technical_notes":["a","b"]}`,
			want: gateway.ExpandedContent{Summary: "S", TechnicalNotes: "a\nb"},
		},
		{
			name: "markdown fallback",
			in: "As a user I want things.\n\n## Acceptance Criteria\n- [ ] first\n2. second\nnot a bullet\n\n**Technical Considerations:**\nUse Go.\n\n## Definition of Done\n- merged",
			want: gateway.ExpandedContent{
				Summary:            "As a user I want things.",
				AcceptanceCriteria: []string{"first", "second"},
				TechnicalNotes:     "Use Go.",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseResponse("   ")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIExpander(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": modelJSON}}},
			"usage":   map[string]any{"prompt_tokens": 120, "completion_tokens": 80},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIExpander(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Temperature: 0.7, MaxTokens: 500})
	require.NoError(t, err)

	tracker, err := usage.NewTracker(t.TempDir())
	require.NoError(t, err)
	ctx := usage.NewContext(gateway.WithRunID(context.Background(), "run-7"), tracker)

	out, err := e.Expand(ctx, story, nil)
	require.NoError(t, err)
	assert.Len(t, out.AcceptanceCriteria, 2)

	stats := tracker.Stats()
	assert.Equal(t, usage.TokenCounts{Calls: 1, Input: 120, Output: 80, Total: 200}, stats.ByModel["gpt-4o"])
	assert.Equal(t, int64(200), stats.ByRun["run-7"].Total)

	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, 500, got.MaxTokens)
	assert.Equal(t, 0.7, got.Temperature)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[1].Content, story.Title)
}

func TestOpenAIExpander_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":{"message":"nope"}}`, tt.status)
			}))
			defer srv.Close()

			e, err := NewOpenAIExpander(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)
			_, err = e.Expand(context.Background(), story, nil)

			var gwErr *gateway.Error
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, gateway.KindExpansion, gwErr.Kind)
			assert.Equal(t, tt.status, gwErr.Status)
			assert.Equal(t, tt.retryable, gwErr.Retryable)
		})
	}
}

func TestOpenAIExpander_RequiresKey(t *testing.T) {
	_, err := NewOpenAIExpander(OpenAIConfig{})
	assert.Error(t, err)
}

type fakeGenerator struct {
	text   string
	err    error
	config *genai.GenerateContentConfig
	model  string
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = cfg
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.text, genai.RoleModel)}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     40,
			CandidatesTokenCount: 10,
		},
	}, nil
}

func TestGeminiExpander(t *testing.T) {
	gen := &fakeGenerator{text: modelJSON}
	e := newGeminiExpander(gen, GeminiConfig{Temperature: 0.2, MaxTokens: 800})

	tracker, err := usage.NewTracker(t.TempDir())
	require.NoError(t, err)

	out, err := e.Expand(usage.NewContext(context.Background(), tracker), story, nil)
	require.NoError(t, err)
	assert.Equal(t, "Use bcrypt.", out.TechnicalNotes)
	assert.Equal(t, int64(50), tracker.Stats().ByProvider["gemini"].Total)
	assert.Equal(t, "gemini-2.5-flash", gen.model)
	assert.Equal(t, "application/json", gen.config.ResponseMIMEType)
	assert.Equal(t, int32(800), gen.config.MaxOutputTokens)
}

func TestGeminiExpander_Errors(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("Error 429, Message: quota, Status: RESOURCE_EXHAUSTED")}
	e := newGeminiExpander(gen, GeminiConfig{})

	_, err := e.Expand(context.Background(), story, nil)
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, 429, gwErr.Status)
	assert.True(t, gwErr.Retryable)

	gen.err = errors.New("Error 400, Message: bad request, Status: INVALID_ARGUMENT")
	_, err = e.Expand(context.Background(), story, nil)
	require.ErrorAs(t, err, &gwErr)
	assert.False(t, gwErr.Retryable)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.LLMConfig{Provider: "parrot", APIKey: "k"}, 0)
	assert.ErrorContains(t, err, "unsupported provider")
}
