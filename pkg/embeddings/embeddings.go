// Package embeddings provides text embedding services for the retrieval
// pipeline. Two providers are available: "openai" for production and
// "local" for development and tests (deterministic, no network).
package embeddings

import (
	"context"
	"fmt"
)

// EmbeddingService generates vector representations of text.
type EmbeddingService interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimension size of the embeddings.
	Dimensions() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// Config holds configuration for embedding providers.
type Config struct {
	// Provider selects the embedding backend: "openai" or "local".
	Provider string `yaml:"provider" json:"provider"`

	// APIKey authenticates against the OpenAI API.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// Model names the embedding model (openai provider).
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Dimensions sets the embedding size. Required for "local";
	// defaults per model for "openai".
	Dimensions int `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`
}

// New creates an EmbeddingService from the configuration.
func New(config Config) (EmbeddingService, error) {
	switch config.Provider {
	case "openai":
		return NewOpenAI(config)
	case "local":
		return NewLocal(config.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %q", config.Provider)
	}
}
