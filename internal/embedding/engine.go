// Package embedding provides vector embedding generation for the semantic
// index. Supports two backends: Ollama (local) and Google GenAI (cloud).
// The capability is optional everywhere: its absence never blocks a write.
package embedding

import (
	"context"
	"fmt"
	"math"

	"engramd/internal/config"
	"engramd/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// NewEngine creates an embedding engine based on configuration.
// An empty provider disables embeddings and returns (nil, nil).
func NewEngine(cfg config.EmbeddingConfig) (Engine, error) {
	switch cfg.Provider {
	case "":
		logging.Embedding("embedding disabled by configuration")
		return nil, nil
	case "ollama":
		logging.Embedding("initializing Ollama engine: endpoint=%s, model=%s", cfg.OllamaEndpoint, cfg.OllamaModel)
		eng, err := NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
		if err != nil {
			return nil, err
		}
		return eng, nil
	case "genai":
		logging.Embedding("initializing GenAI engine: model=%s", cfg.GenAIModel)
		eng, err := NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
		if err != nil {
			return nil, err
		}
		return eng, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i] * b[i])
		magA += float64(a[i] * a[i])
		magB += float64(b[i] * b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
