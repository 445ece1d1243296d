// Package vectorstore defines the vector index abstraction used by the
// context retriever, plus a provider registry so backends can be swapped
// through configuration.
package vectorstore

import (
	"context"
	"fmt"
	"time"
)

// VectorStore is the interface to a vector index.
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// Upsert inserts or updates documents with embeddings.
	Upsert(ctx context.Context, documents []Document) error

	// Search returns the most similar documents for the query embedding,
	// ordered by descending score. Ties are broken by insertion order.
	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of indexed documents.
	Count(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// Document represents an indexed document chunk.
type Document struct {
	// ID is the unique identifier for the document.
	ID string `json:"id"`

	// Content is the text content of the document.
	Content string `json:"content"`

	// Embedding is the vector representation of the content.
	Embedding []float32 `json:"embedding"`

	// Metadata contains additional information (source, category, title, ...).
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the document was first indexed.
	CreatedAt time.Time `json:"created_at"`
}

// SearchQuery defines the parameters for a similarity search.
type SearchQuery struct {
	// Embedding is the query vector.
	Embedding []float32

	// TopK is the number of results to return.
	TopK int

	// MinScore filters out results below this similarity (0 disables).
	MinScore float32
}

// SearchResult pairs a document with its similarity score.
type SearchResult struct {
	Document Document
	Score    float32
}

// ValidateDocument checks a document before indexing.
func ValidateDocument(doc *Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if doc.Content == "" {
		return fmt.Errorf("document %s has empty content", doc.ID)
	}
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("document %s has no embedding", doc.ID)
	}
	return nil
}

// ValidateSearchQuery checks a search query.
func ValidateSearchQuery(q *SearchQuery) error {
	if len(q.Embedding) == 0 {
		return fmt.Errorf("query embedding is required")
	}
	if q.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", q.TopK)
	}
	return nil
}
