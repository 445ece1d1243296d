// Package retrieval fetches context chunks for grounded answers, guarding
// the vector backend with a circuit breaker and bounded retry.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shopgraph/shopgraph/internal/shoperr"
	"github.com/shopgraph/shopgraph/pkg/embeddings"
	"github.com/shopgraph/shopgraph/pkg/vectorstore"
)

// Chunk is a retrieved piece of context with its relevance score.
type Chunk struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Options configures the retriever.
type Options struct {
	// TopK is the number of chunks to retrieve per query.
	TopK int
	// MinScore filters chunks below this similarity (0 disables).
	MinScore float32
	// MaxRetries bounds search attempts against the backend.
	MaxRetries int
	// Backoff is the base delay between retries, doubled per attempt.
	Backoff time.Duration
	// IngestConcurrency bounds parallel embedding calls during ingestion.
	IngestConcurrency int
}

func (o *Options) applyDefaults() {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	if o.IngestConcurrency <= 0 {
		o.IngestConcurrency = 4
	}
}

// Retriever embeds queries and searches the vector store.
type Retriever struct {
	embedder embeddings.EmbeddingService
	store    vectorstore.VectorStore
	breaker  *Breaker
	opts     Options
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetriever builds a Retriever over the given embedder and store.
func NewRetriever(embedder embeddings.EmbeddingService, store vectorstore.VectorStore, breaker *Breaker, opts Options, logger *slog.Logger) *Retriever {
	opts.applyDefaults()
	if breaker == nil {
		breaker = NewBreaker(DefaultBreakerConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		breaker:  breaker,
		opts:     opts,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Breaker exposes the circuit breaker, for health reporting.
func (r *Retriever) Breaker() *Breaker { return r.breaker }

// Retrieve returns the top chunks for query, ordered by descending score.
//
// When the breaker is open the call fails immediately without touching the
// backend. Transient backend failures are retried with exponential backoff
// inside a single breaker accounting window: the attempt loop counts as one
// success or one failure. Only the index call is charged to the breaker;
// embedding errors and caller cancellations release the admitted slot
// without a verdict, so client disconnects cannot open the circuit against
// a healthy backend.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Chunk, error) {
	if !r.breaker.Allow() {
		return nil, shoperr.Newf(shoperr.CodeRetrievalUnavailable, "retrieval circuit open")
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.breaker.Release()
		return nil, shoperr.Wrapf(shoperr.CodeRetrievalUnavailable, err, "query embedding failed")
	}

	chunks, err := r.searchWithRetry(ctx, embedding)
	switch {
	case err == nil:
		r.breaker.RecordSuccess()
		return chunks, nil
	case ctx.Err() != nil:
		r.breaker.Release()
		return nil, err
	default:
		r.breaker.RecordFailure()
		return nil, err
	}
}

func (r *Retriever) searchWithRetry(ctx context.Context, embedding []float32) ([]Chunk, error) {
	sq := vectorstore.SearchQuery{
		Embedding: embedding,
		TopK:      r.opts.TopK,
		MinScore:  r.opts.MinScore,
	}

	var lastErr error
	for attempt := 0; attempt < r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.opts.Backoff<<(attempt-1)); err != nil {
				return nil, shoperr.Wrapf(shoperr.CodeRetrievalUnavailable, err, "retrieval canceled")
			}
			r.logger.Debug("retrying retrieval", "attempt", attempt+1)
		}

		results, err := r.store.Search(ctx, sq)
		if err != nil {
			lastErr = err
			continue
		}

		chunks := make([]Chunk, 0, len(results))
		for _, res := range results {
			chunks = append(chunks, Chunk{
				ID:       res.Document.ID,
				Content:  res.Document.Content,
				Score:    res.Score,
				Metadata: res.Document.Metadata,
			})
		}
		return chunks, nil
	}

	return nil, shoperr.Wrapf(shoperr.CodeRetrievalUnavailable, lastErr, "search failed after %d attempts", r.opts.MaxRetries)
}

// IngestResult reports the outcome of a batch ingestion.
type IngestResult struct {
	Indexed int               `json:"indexed"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// IngestDocument is a document submitted for indexing, before embedding.
type IngestDocument struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Ingest embeds and indexes a batch of documents. Embedding runs with
// bounded concurrency; documents that fail validation or embedding are
// reported per ID without aborting the rest of the batch.
func (r *Retriever) Ingest(ctx context.Context, docs []IngestDocument) (*IngestResult, error) {
	if len(docs) == 0 {
		return nil, shoperr.Newf(shoperr.CodeValidationFailure, "no documents provided")
	}

	var mu sync.Mutex
	failed := make(map[string]string)
	fail := func(id, reason string) {
		mu.Lock()
		failed[id] = reason
		mu.Unlock()
	}

	prepared := make([]vectorstore.Document, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.IngestConcurrency)

	for i, doc := range docs {
		g.Go(func() error {
			if doc.ID == "" {
				fail(fmt.Sprintf("doc-%d", i), "missing document ID")
				return nil
			}
			if doc.Content == "" {
				fail(doc.ID, "empty content")
				return nil
			}

			embedding, err := r.embedder.Embed(gctx, doc.Content)
			if err != nil {
				fail(doc.ID, err.Error())
				return nil
			}

			prepared[i] = vectorstore.Document{
				ID:        doc.ID,
				Content:   doc.Content,
				Embedding: embedding,
				Metadata:  doc.Metadata,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, shoperr.Wrapf(shoperr.CodeRetrievalUnavailable, err, "document embedding failed")
	}

	result := &IngestResult{Failed: failed}
	toIndex := make([]vectorstore.Document, 0, len(prepared))
	for _, doc := range prepared {
		if doc.ID == "" || len(doc.Embedding) == 0 {
			continue
		}
		toIndex = append(toIndex, doc)
	}

	if len(toIndex) > 0 {
		if err := r.store.Upsert(ctx, toIndex); err != nil {
			return nil, shoperr.Wrapf(shoperr.CodeRetrievalUnavailable, err, "indexing failed")
		}
	}
	result.Indexed = len(toIndex)

	if len(result.Failed) == 0 {
		result.Failed = nil
	}
	return result, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
