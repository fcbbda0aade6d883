package config

import "fmt"

// Supported expansion providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{ProviderOpenAI, ProviderGemini}

// LLMConfig configures the expansion model.
type LLMConfig struct {
	Provider    string  `yaml:"provider" toml:"provider"` // openai, gemini
	APIKey      string  `yaml:"api_key" toml:"api_key"`
	Model       string  `yaml:"model" toml:"model"`
	BaseURL     string  `yaml:"base_url" toml:"base_url"` // OpenAI-compatible endpoint
	Temperature float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens"`
}

// GetModel returns the configured model or the provider default.
func (l LLMConfig) GetModel() string {
	if l.Model != "" {
		return l.Model
	}
	switch l.Provider {
	case ProviderGemini:
		return "gemini-2.5-flash"
	default:
		return "gpt-4o"
	}
}

// Validate validates the LLM section.
func (l LLMConfig) Validate() error {
	if l.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set OPENAI_API_KEY or GEMINI_API_KEY)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if l.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", l.Provider, ValidProviders)
	}
	if l.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", l.MaxTokens)
	}
	return nil
}
