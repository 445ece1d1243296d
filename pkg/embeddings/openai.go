package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// embeddingClient is the subset of the OpenAI client used here,
// extracted for testability.
type embeddingClient interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbeddings implements EmbeddingService using the OpenAI API.
type OpenAIEmbeddings struct {
	client     embeddingClient
	model      openai.EmbeddingModel
	dimensions int
}

var modelDimensions = map[openai.EmbeddingModel]int{
	openai.SmallEmbedding3: 1536,
	openai.LargeEmbedding3: 3072,
	openai.AdaEmbeddingV2:  1536,
}

// NewOpenAI creates an OpenAI-backed embedding service.
func NewOpenAI(config Config) (EmbeddingService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	model := openai.EmbeddingModel(config.Model)
	if config.Model == "" {
		model = openai.SmallEmbedding3
	}

	dims := modelDimensions[model]
	if config.Dimensions > 0 {
		dims = config.Dimensions
	}
	if dims == 0 {
		return nil, fmt.Errorf("unknown embedding model %q: dimensions must be set explicitly", config.Model)
	}

	return &OpenAIEmbeddings{
		client:     openai.NewClient(config.APIKey),
		model:      model,
		dimensions: dims,
	}, nil
}

// NewOpenAIWithClient creates an OpenAI-backed embedding service with a
// custom client (useful for testing).
func NewOpenAIWithClient(client embeddingClient, model openai.EmbeddingModel, dimensions int) *OpenAIEmbeddings {
	return &OpenAIEmbeddings{client: client, model: model, dimensions: dimensions}
}

// Embed generates an embedding for a single text.
func (o *OpenAIEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	results, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one API call.
func (o *OpenAIEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty")
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: o.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: requested %d, got %d", len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension size.
func (o *OpenAIEmbeddings) Dimensions() int { return o.dimensions }

// ModelName returns the embedding model name.
func (o *OpenAIEmbeddings) ModelName() string { return string(o.model) }
