package config

import "time"

// LLMConfig configures the LLM completion provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`

	// MaxConcurrentCalls caps simultaneous LLM API calls across the whole
	// process (refinement and deep analysis share this budget).
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`
}

// GetTimeout returns the call timeout as a duration, defaulting to 120s
// when unset or malformed.
func (c LLMConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// DefaultLLMConfig returns sensible defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:           "openai",
		Model:              "gpt-4o-mini",
		BaseURL:            "https://api.openai.com/v1",
		Timeout:            "120s",
		MaxConcurrentCalls: 5,
	}
}
