// Package config loads agentjira application settings: tracker credentials,
// LLM provider, retrieval store, pipeline tuning, ledger location and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// StateDir is the workspace directory holding settings, ledger and vectors.
const StateDir = ".agentjira"

// Config holds all agentjira configuration.
type Config struct {
	Jira      JiraConfig      `yaml:"jira" toml:"jira"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval" toml:"retrieval"`
	Pipeline  PipelineConfig  `yaml:"pipeline" toml:"pipeline"`
	Ledger    LedgerConfig    `yaml:"ledger" toml:"ledger"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// JiraConfig configures the issue tracker.
type JiraConfig struct {
	URL          string `yaml:"url" toml:"url"`
	Username     string `yaml:"username" toml:"username"`
	APIToken     string `yaml:"api_token" toml:"api_token"`
	ProjectKey   string `yaml:"project_key" toml:"project_key"` // fills global.project when a stories file omits it
	EpicField    string `yaml:"epic_field" toml:"epic_field"`
	MarkerPrefix string `yaml:"marker_prefix" toml:"marker_prefix"`
}

// RetrievalConfig configures the optional vector store.
type RetrievalConfig struct {
	Enabled      bool            `yaml:"enabled" toml:"enabled"`
	DatabasePath string          `yaml:"database_path" toml:"database_path"`
	Driver       string          `yaml:"driver" toml:"driver"` // sqlite, sqlite3
	TopK         int             `yaml:"top_k" toml:"top_k"`
	Embedding    EmbeddingConfig `yaml:"embedding" toml:"embedding"`
}

// EmbeddingConfig selects the embedding backend for retrieval.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider" toml:"provider"` // genai, ollama
	Model          string `yaml:"model" toml:"model"`
	APIKey         string `yaml:"api_key" toml:"api_key"`
	OllamaEndpoint string `yaml:"ollama_endpoint" toml:"ollama_endpoint"`
	TaskType       string `yaml:"task_type" toml:"task_type"`
}

// PipelineConfig tunes the engine.
type PipelineConfig struct {
	MaxRetries  int    `yaml:"max_retries" toml:"max_retries"`
	DryRun      bool   `yaml:"dry_run" toml:"dry_run"`
	Timeout     string `yaml:"timeout" toml:"timeout"`
	Concurrency int    `yaml:"concurrency" toml:"concurrency"`
	BackoffBase string `yaml:"backoff_base" toml:"backoff_base"`
	BackoffMax  string `yaml:"backoff_max" toml:"backoff_max"`
}

// LedgerConfig locates the idempotence ledger.
type LedgerConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite (pure Go), sqlite3 (cgo)
	Path   string `yaml:"path" toml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Jira: JiraConfig{
			EpicField:    "customfield_10014",
			MarkerPrefix: "agentjira-",
		},

		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			BaseURL:     "https://api.openai.com/v1",
			Temperature: 0.7,
			MaxTokens:   1000,
		},

		Retrieval: RetrievalConfig{
			DatabasePath: filepath.Join(StateDir, "vectors.db"),
			Driver:       "sqlite",
			TopK:         5,
			Embedding: EmbeddingConfig{
				Provider:       "genai",
				Model:          "gemini-embedding-001",
				OllamaEndpoint: "http://localhost:11434",
				TaskType:       "RETRIEVAL_QUERY",
			},
		},

		Pipeline: PipelineConfig{
			MaxRetries:  3,
			Timeout:     "30s",
			Concurrency: 1,
			BackoffBase: "1s",
			BackoffMax:  "30s",
		},

		Ledger: LedgerConfig{
			Driver: "sqlite",
			Path:   filepath.Join(StateDir, "ledger.db"),
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPath returns the default settings file location.
func DefaultPath() string {
	return filepath.Join(StateDir, "config.yaml")
}

// Load loads configuration from a YAML or TOML file. A missing file yields
// the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := decode(path, data, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Save saves configuration as YAML, or TOML when path ends in .toml.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var sb strings.Builder
		err = toml.NewEncoder(&sb).Encode(c)
		data = []byte(sb.String())
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("JIRA_URL"); v != "" {
		c.Jira.URL = v
	}
	if v := os.Getenv("JIRA_USERNAME"); v != "" {
		c.Jira.Username = v
	}
	if v := os.Getenv("JIRA_API_TOKEN"); v != "" {
		c.Jira.APIToken = v
	}
	if v := os.Getenv("JIRA_PROJECT_KEY"); v != "" {
		c.Jira.ProjectKey = v
	}
	if v := os.Getenv("JIRA_EPIC_FIELD"); v != "" {
		c.Jira.EpicField = v
	}

	// LLM key: OPENAI wins when both are present
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = ProviderGemini
		if c.Retrieval.Embedding.APIKey == "" {
			c.Retrieval.Embedding.APIKey = key
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = ProviderOpenAI
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}

	if v := os.Getenv("VECTOR_DB_PATH"); v != "" {
		c.Retrieval.DatabasePath = v
	}

	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.MaxRetries = n
		}
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Pipeline.DryRun = b
		}
	}
	if v := os.Getenv("TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.Timeout = (time.Duration(n) * time.Second).String()
		}
	}

	if v := os.Getenv("LEDGER_PATH"); v != "" {
		c.Ledger.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// GetTimeout returns the per-gateway-call timeout.
func (c *Config) GetTimeout() time.Duration {
	return parseDuration(c.Pipeline.Timeout, 30*time.Second)
}

// GetBackoff returns the retry backoff base and cap.
func (c *Config) GetBackoff() (base, max time.Duration) {
	return parseDuration(c.Pipeline.BackoffBase, time.Second), parseDuration(c.Pipeline.BackoffMax, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate checks the settings needed for a real run.
func (c *Config) Validate() error {
	if c.Jira.URL == "" {
		return fmt.Errorf("Jira URL not configured (set jira.url or JIRA_URL)")
	}
	if c.Jira.Username == "" || c.Jira.APIToken == "" {
		return fmt.Errorf("Jira credentials not configured (set JIRA_USERNAME and JIRA_API_TOKEN)")
	}
	return c.ValidateForDryRun()
}

// ValidateForDryRun checks everything except tracker credentials.
func (c *Config) ValidateForDryRun() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0, got %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("pipeline.concurrency must be >= 1, got %d", c.Pipeline.Concurrency)
	}
	switch c.Ledger.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("invalid ledger driver: %s (valid: sqlite, sqlite3)", c.Ledger.Driver)
	}
	if c.Retrieval.Enabled && c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be >= 1 when retrieval is enabled")
	}
	return nil
}
