package config

import (
	"encoding/json"
	"fmt"

	"github.com/arif/kestrel/pkg/permission"
)

// Config represents the main Kestrel configuration
type Config struct {
	// Provider selects and tunes the LLM backend
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`

	// Permissions controls tool-use gating
	Permissions PermissionsConfig `json:"permissions" mapstructure:"permissions"`

	// Verification controls commitment assertion runs
	Verification VerificationConfig `json:"verification" mapstructure:"verification"`

	// QueryLimit caps concurrent backend queries across all agents
	QueryLimit int `json:"query_limit" mapstructure:"query_limit"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProviderConfig holds LLM backend configuration
type ProviderConfig struct {
	Name         string `json:"name" mapstructure:"name"` // anthropic, openai
	Model        string `json:"model" mapstructure:"model"`
	MaxTokens    int    `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`
	APIKey       string `json:"api_key" mapstructure:"api_key"`
}

// PermissionsConfig holds tool-use gating configuration
type PermissionsConfig struct {
	Mode      string `json:"mode" mapstructure:"mode"`
	StateFile string `json:"state_file" mapstructure:"state_file"`
	Watch     bool   `json:"watch" mapstructure:"watch"` // live-reload the state file
}

// VerificationConfig holds commitment verification configuration
type VerificationConfig struct {
	TimeoutSeconds    int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	WorkingDir        string `json:"working_dir" mapstructure:"working_dir"`
	RetrySchedule     string `json:"retry_schedule" mapstructure:"retry_schedule"` // cron spec, empty disables
	MaxFeedbackRounds int    `json:"max_feedback_rounds" mapstructure:"max_feedback_rounds"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:      "anthropic",
			MaxTokens: 4096,
		},
		Permissions: PermissionsConfig{
			Mode:  string(permission.ModeInteractive),
			Watch: true,
		},
		Verification: VerificationConfig{
			TimeoutSeconds:    30,
			MaxFeedbackRounds: 3,
		},
		QueryLimit: 10,
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("invalid provider %q (must be: anthropic, openai)", c.Provider.Name)
	}

	if c.Provider.MaxTokens < 1 {
		return fmt.Errorf("provider max_tokens must be positive, got %d", c.Provider.MaxTokens)
	}

	if !permission.Mode(c.Permissions.Mode).Valid() {
		return fmt.Errorf("invalid permission mode %q (must be one of: %v)",
			c.Permissions.Mode, permission.ValidModes)
	}

	if c.Verification.TimeoutSeconds < 0 {
		return fmt.Errorf("verification timeout_seconds must not be negative, got %d", c.Verification.TimeoutSeconds)
	}

	if c.Verification.MaxFeedbackRounds < 0 {
		return fmt.Errorf("verification max_feedback_rounds must not be negative, got %d", c.Verification.MaxFeedbackRounds)
	}

	if c.QueryLimit < 1 {
		return fmt.Errorf("query_limit must be at least 1, got %d", c.QueryLimit)
	}

	return nil
}
