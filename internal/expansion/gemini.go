package expansion

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"google.golang.org/genai"

	"agentjira/internal/gateway"
	"agentjira/internal/logging"
	"agentjira/internal/stories"
	"agentjira/internal/usage"
)

// GeminiConfig configures the Gemini expander.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// contentGenerator is the slice of genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExpander expands stories with Gemini in JSON response mode.
type GeminiExpander struct {
	models contentGenerator
	cfg    GeminiConfig
}

// NewGeminiExpander creates a Gemini-backed expander.
func NewGeminiExpander(ctx context.Context, cfg GeminiConfig) (*GeminiExpander, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("expansion: Gemini API key not configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("expansion: failed to create GenAI client: %w", err)
	}
	return newGeminiExpander(client.Models, cfg), nil
}

func newGeminiExpander(models contentGenerator, cfg GeminiConfig) *GeminiExpander {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	return &GeminiExpander{models: models, cfg: cfg}
}

// Expand implements gateway.Expander.
func (g *GeminiExpander) Expand(ctx context.Context, story stories.Story, snippets []gateway.ContextSnippet) (gateway.ExpandedContent, error) {
	start := time.Now()
	logging.ExpansionDebug("[Gemini] Expand: model=%s title=%q snippets=%d", g.cfg.Model, story.Title, len(snippets))

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(float32(g.cfg.Temperature)),
		MaxOutputTokens:   int32(g.cfg.MaxTokens),
		ResponseMIMEType:  "application/json",
	}

	resp, err := g.models.GenerateContent(ctx, g.cfg.Model, genai.Text(BuildPrompt(story, snippets)), config)
	if err != nil {
		return gateway.ExpandedContent{}, classifyGenAIError(err)
	}
	if md := resp.UsageMetadata; md != nil {
		usage.Record(ctx, "gemini", g.cfg.Model, usage.OperationExpand, int(md.PromptTokenCount), int(md.CandidatesTokenCount))
	}

	content, err := ParseResponse(resp.Text())
	if err != nil {
		return gateway.ExpandedContent{}, gateway.ExpansionError(err, true)
	}
	logging.Expansion("[Gemini] Expanded %q in %v (%d criteria)", story.Title, time.Since(start), len(content.AcceptanceCriteria))
	return content, nil
}

// genai reports API failures as "Error <code>, Message: ..., Status: ...".
var genaiStatusRe = regexp.MustCompile(`Error (\d{3})`)

func classifyGenAIError(err error) *gateway.Error {
	if m := genaiStatusRe.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return &gateway.Error{
				Kind:      gateway.KindExpansion,
				Status:    code,
				Retryable: gateway.RetryableStatus(code),
				Err:       err,
			}
		}
	}
	return gateway.ExpansionError(err, gateway.IsRetryable(err))
}
