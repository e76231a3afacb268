// Package llm provides text-generation clients used by the consolidation
// pipeline. Two providers are supported: Google's genai SDK and any
// OpenAI-compatible chat completions endpoint.
package llm

import (
	"context"
	"fmt"

	"engramd/internal/config"
)

// Client defines the interface for LLM providers.
type Client interface {
	// Complete sends a prompt and returns the completion text.
	Complete(ctx context.Context, prompt string) (string, error)
	// CompleteWithSystem sends a prompt with a system message.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// Name returns a human-readable provider identifier.
	Name() string
}

// NewClient constructs a Client from configuration. An empty provider
// returns (nil, nil): callers treat a nil client as "LLM disabled" and
// fall back to heuristic-only behavior.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "gemini":
		c, err := NewGeminiClient(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "openai":
		c, err := NewOpenAIClient(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
}
