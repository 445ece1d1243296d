package vectorstore

import (
	"fmt"
	"sync"
)

// Config holds configuration for vector store providers.
type Config struct {
	// Provider specifies which vector store to use ("memory", ...).
	Provider string `yaml:"provider" json:"provider"`

	// EmbeddingDimensions is the size of the embedding vectors.
	EmbeddingDimensions int `yaml:"embedding_dimensions" json:"embedding_dimensions"`

	// MaxDocuments caps the index size (memory provider only, 0 = default).
	MaxDocuments int `yaml:"max_documents,omitempty" json:"max_documents,omitempty"`
}

// Validate checks provider-independent configuration.
func (c Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("embedding_dimensions must be positive, got %d", c.EmbeddingDimensions)
	}
	return nil
}

// ProviderFactory creates a VectorStore from a Config.
type ProviderFactory func(config Config) (VectorStore, error)

var (
	registry = make(map[string]ProviderFactory)
	mu       sync.RWMutex
)

// Register adds a vector store provider to the registry.
func Register(name string, factory ProviderFactory) {
	mu.Lock()
	defer mu.Unlock()

	if factory == nil {
		panic("vectorstore: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("vectorstore: Register called twice for provider " + name)
	}
	registry[name] = factory
}

// New creates a VectorStore for the provider named in the config.
func New(config Config) (VectorStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mu.RLock()
	factory, ok := registry[config.Provider]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown vector store provider: %s", config.Provider)
	}

	return factory(config)
}
