// Package perception holds the external-signal boundary: LLM completion
// clients, the global API-slot scheduler, and the file inspector contract.
// Nothing above this package reads file bytes or talks to a network.
package perception

import "context"

// Provider identifies an LLM backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// LLMClient is the minimal completion interface the taxonomy pipeline
// consumes. Responses may be imperfect JSON wrapped in markdown fences;
// callers clean before parsing.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	CompleteJSON(ctx context.Context, prompt string) (string, error)
}
