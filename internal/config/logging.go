package config

import "agentjira/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format     string          `yaml:"format" toml:"format"` // console, json
	File       string          `yaml:"file" toml:"file"`
	Categories map[string]bool `yaml:"categories,omitempty" toml:"categories,omitempty"` // per-category toggles
}

// ToLogging converts the section for logging.Initialize.
func (c LoggingConfig) ToLogging() logging.Config {
	return logging.Config{
		Level:      c.Level,
		Format:     c.Format,
		File:       c.File,
		Categories: c.Categories,
	}
}
