package expansion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agentjira/internal/gateway"
	"agentjira/internal/logging"
	"agentjira/internal/stories"
	"agentjira/internal/usage"
)

// OpenAIConfig configures an OpenAI-compatible chat completions client.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIExpander calls /chat/completions. It performs a single attempt per
// Expand; the pipeline owns retries.
type OpenAIExpander struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

// NewOpenAIExpander creates an expander.
func NewOpenAIExpander(cfg OpenAIConfig) (*OpenAIExpander, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("expansion: OpenAI API key not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &OpenAIExpander{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Expand implements gateway.Expander.
func (e *OpenAIExpander) Expand(ctx context.Context, story stories.Story, snippets []gateway.ContextSnippet) (gateway.ExpandedContent, error) {
	start := time.Now()
	logging.ExpansionDebug("[OpenAI] Expand: model=%s title=%q snippets=%d", e.cfg.Model, story.Title, len(snippets))

	reqBody := chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(story, snippets)},
		},
		MaxTokens:      e.cfg.MaxTokens,
		Temperature:    e.cfg.Temperature,
		ResponseFormat: &chatResponseFormat{Type: "json_object"},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return gateway.ExpandedContent{}, gateway.ExpansionError(fmt.Errorf("failed to marshal request: %w", err), false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return gateway.ExpandedContent{}, gateway.ExpansionError(fmt.Errorf("failed to create request: %w", err), false)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("request failed: %w", err)
		return gateway.ExpandedContent{}, gateway.ExpansionError(err, gateway.IsRetryable(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.ExpandedContent{}, gateway.ExpansionError(fmt.Errorf("failed to read response: %w", err), true)
	}
	if resp.StatusCode != http.StatusOK {
		logging.Get(logging.CategoryExpansion).Warn("[OpenAI] Expand: status %d after %v", resp.StatusCode, time.Since(start))
		return gateway.ExpandedContent{}, gateway.HTTPError(gateway.KindExpansion, resp.StatusCode, string(body))
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return gateway.ExpandedContent{}, gateway.ExpansionError(fmt.Errorf("failed to parse response: %w", err), false)
	}
	if chat.Error != nil {
		return gateway.ExpandedContent{}, gateway.ExpansionError(fmt.Errorf("API error: %s", chat.Error.Message), false)
	}
	if chat.Usage != nil {
		usage.Record(ctx, "openai", e.cfg.Model, usage.OperationExpand, chat.Usage.PromptTokens, chat.Usage.CompletionTokens)
	}
	if len(chat.Choices) == 0 {
		return gateway.ExpandedContent{}, gateway.ExpansionError(fmt.Errorf("no completion returned"), true)
	}

	content, err := ParseResponse(chat.Choices[0].Message.Content)
	if err != nil {
		return gateway.ExpandedContent{}, gateway.ExpansionError(err, true)
	}
	logging.Expansion("[OpenAI] Expanded %q in %v (%d criteria)", story.Title, time.Since(start), len(content.AcceptanceCriteria))
	return content, nil
}
