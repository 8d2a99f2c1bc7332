package perception

import (
	"context"
	"fmt"
	"os"

	"taxod/internal/config"
)

// NewClient builds an LLMClient from config. Providers with an external
// scheduler should wrap the result in a ScheduledClient.
func NewClient(ctx context.Context, cfg config.LLMConfig) (LLMClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = detectAPIKey(Provider(cfg.Provider))
	}

	switch Provider(cfg.Provider) {
	case ProviderOpenAI, "":
		oc := DefaultOpenAIConfig(apiKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		oc.Timeout = cfg.GetTimeout()
		oc.DisableSemaphore = true // SlotScheduler owns concurrency
		return NewOpenAIClientWithConfig(oc), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, apiKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// detectAPIKey falls back to environment variables by provider.
func detectAPIKey(p Provider) string {
	switch p {
	case ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	default:
		if k := os.Getenv("OPENAI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("TAXOD_API_KEY")
	}
}
