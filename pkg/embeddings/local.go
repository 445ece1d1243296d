package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalEmbeddings is a deterministic, dependency-free embedding service.
// It hashes word tokens into a fixed-size bag-of-words vector and
// L2-normalizes it, so identical texts always produce identical vectors and
// texts sharing vocabulary score high under cosine similarity. Intended for
// development and tests, not semantic quality.
type LocalEmbeddings struct {
	dimensions int
}

// NewLocal creates a local embedding service with the given dimensions.
func NewLocal(dimensions int) (*LocalEmbeddings, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	return &LocalEmbeddings{dimensions: dimensions}, nil
}

// Embed generates a deterministic embedding for the text.
func (l *LocalEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	vec := make([]float32, l.dimensions)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[int(h.Sum32())%l.dimensions]++
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (l *LocalEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty")
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := l.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text at index %d: %w", i, err)
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension size.
func (l *LocalEmbeddings) Dimensions() int { return l.dimensions }

// ModelName returns the model identifier.
func (l *LocalEmbeddings) ModelName() string { return "local-bow" }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
