package expansion

import (
	"context"
	"fmt"
	"time"

	"agentjira/internal/config"
	"agentjira/internal/gateway"
	"agentjira/internal/logging"
)

// New builds the expander for the configured provider.
func New(ctx context.Context, cfg config.LLMConfig, timeout time.Duration) (gateway.Expander, error) {
	logging.Expansion("Creating expander: provider=%s model=%s", cfg.Provider, cfg.GetModel())
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIExpander(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.GetModel(),
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     timeout,
		})
	case config.ProviderGemini:
		return NewGeminiExpander(ctx, GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.GetModel(),
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("expansion: unsupported provider %q (valid: %v)", cfg.Provider, config.ValidProviders)
	}
}
