package embedding

import (
	"math"
	"testing"

	"engramd/internal/config"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1.0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 0, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CosineSimilarity failed: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	if _, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); err == nil {
		t.Error("expected error for dimension mismatch")
	}
}

func TestNewEngineDisabled(t *testing.T) {
	engine, err := NewEngine(config.EmbeddingConfig{Provider: ""})
	if err != nil {
		t.Fatalf("empty provider should not error: %v", err)
	}
	if engine != nil {
		t.Error("empty provider should return a nil engine")
	}
}

func TestNewEngineUnknownProvider(t *testing.T) {
	if _, err := NewEngine(config.EmbeddingConfig{Provider: "warp-drive"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestOllamaEngineDefaults(t *testing.T) {
	engine, err := NewOllamaEngine("", "")
	if err != nil {
		t.Fatalf("NewOllamaEngine failed: %v", err)
	}
	if engine.Name() != "ollama:embeddinggemma" {
		t.Errorf("unexpected name: %s", engine.Name())
	}
	if engine.Dimensions() != 768 {
		t.Errorf("unexpected dimensions: %d", engine.Dimensions())
	}
}
