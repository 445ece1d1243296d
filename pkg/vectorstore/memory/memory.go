// Package memory provides an in-memory vector store using brute-force
// cosine similarity. Suitable for development, tests, and small indexes.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/shopgraph/shopgraph/pkg/vectorstore"
)

// Store implements vectorstore.VectorStore in memory.
type Store struct {
	documents     map[string]entry
	nextSeq       uint64
	maxDocuments  int
	embeddingDims int
	mu            sync.RWMutex
}

// entry tracks insertion order alongside the document so search results
// have a stable tie-break.
type entry struct {
	doc vectorstore.Document
	seq uint64
}

func init() {
	vectorstore.Register("memory", New)
}

// New creates an in-memory store from the provided configuration.
func New(config vectorstore.Config) (vectorstore.VectorStore, error) {
	if config.EmbeddingDimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be greater than 0, got %d", config.EmbeddingDimensions)
	}

	maxDocs := config.MaxDocuments
	if maxDocs <= 0 {
		maxDocs = 10000
	}

	return &Store{
		documents:     make(map[string]entry),
		maxDocuments:  maxDocs,
		embeddingDims: config.EmbeddingDimensions,
	}, nil
}

// Upsert inserts or updates documents with embeddings.
func (s *Store) Upsert(ctx context.Context, documents []vectorstore.Document) error {
	if len(documents) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range documents {
		if err := vectorstore.ValidateDocument(&documents[i]); err != nil {
			return fmt.Errorf("invalid document at index %d: %w", i, err)
		}
		if len(documents[i].Embedding) != s.embeddingDims {
			return fmt.Errorf("document %s embedding dimension mismatch: expected %d, got %d",
				documents[i].ID, s.embeddingDims, len(documents[i].Embedding))
		}
	}

	newDocs := 0
	for _, doc := range documents {
		if _, exists := s.documents[doc.ID]; !exists {
			newDocs++
		}
	}
	if len(s.documents)+newDocs > s.maxDocuments {
		return fmt.Errorf("would exceed max documents limit: %d (current: %d, adding: %d)",
			s.maxDocuments, len(s.documents), newDocs)
	}

	for _, doc := range documents {
		seq := s.nextSeq
		if existing, ok := s.documents[doc.ID]; ok {
			// Updates keep the original insertion position.
			seq = existing.seq
		} else {
			s.nextSeq++
		}
		s.documents[doc.ID] = entry{doc: copyDocument(doc), seq: seq}
	}

	return nil
}

// Search performs brute-force cosine similarity search.
func (s *Store) Search(ctx context.Context, query vectorstore.SearchQuery) ([]vectorstore.SearchResult, error) {
	if err := vectorstore.ValidateSearchQuery(&query); err != nil {
		return nil, fmt.Errorf("invalid search query: %w", err)
	}
	if len(query.Embedding) != s.embeddingDims {
		return nil, fmt.Errorf("query embedding dimension mismatch: expected %d, got %d",
			s.embeddingDims, len(query.Embedding))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type candidate struct {
		result vectorstore.SearchResult
		seq    uint64
	}

	var candidates []candidate
	for _, e := range s.documents {
		score := cosineSimilarity(query.Embedding, e.doc.Embedding)
		if query.MinScore > 0 && score < query.MinScore {
			continue
		}
		candidates = append(candidates, candidate{
			result: vectorstore.SearchResult{Document: copyDocument(e.doc), Score: score},
			seq:    e.seq,
		})
	}

	// Descending score; earlier insertion wins ties.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].result.Score != candidates[j].result.Score {
			return candidates[i].result.Score > candidates[j].result.Score
		}
		return candidates[i].seq < candidates[j].seq
	})

	if len(candidates) > query.TopK {
		candidates = candidates[:query.TopK]
	}

	results := make([]vectorstore.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = c.result
	}
	return results, nil
}

// Delete removes documents by their IDs.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.documents, id)
	}
	return nil
}

// Count returns the number of indexed documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents), nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrt(normA) * sqrt(normB))
}

func sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

func copyDocument(doc vectorstore.Document) vectorstore.Document {
	embedding := make([]float32, len(doc.Embedding))
	copy(embedding, doc.Embedding)

	var metadata map[string]any
	if doc.Metadata != nil {
		metadata = make(map[string]any, len(doc.Metadata))
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
	}

	return vectorstore.Document{
		ID:        doc.ID,
		Content:   doc.Content,
		Embedding: embedding,
		Metadata:  metadata,
		CreatedAt: doc.CreatedAt,
	}
}
