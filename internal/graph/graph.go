// Package graph runs the query orchestration: classify the intent, retrieve
// context when the route calls for it, generate a graded answer, and persist
// the turn. Classification and retrieval failures degrade the result;
// generation failures terminate it.
package graph

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shopgraph/shopgraph/internal/generate"
	"github.com/shopgraph/shopgraph/internal/intent"
	"github.com/shopgraph/shopgraph/internal/observability"
	"github.com/shopgraph/shopgraph/internal/retrieval"
	"github.com/shopgraph/shopgraph/internal/session"
	"github.com/shopgraph/shopgraph/internal/shoperr"
)

// Classifier maps a query onto the closed intent set.
type Classifier interface {
	Classify(ctx context.Context, query string) (intent.Intent, error)
}

// Retriever fetches ranked context chunks.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]retrieval.Chunk, error)
}

// Generator produces the graded answer.
type Generator interface {
	Generate(ctx context.Context, query string, chunks []retrieval.Chunk, history []session.Turn) (*generate.Answer, error)
	GenerateStream(ctx context.Context, query string, chunks []retrieval.Chunk, history []session.Turn, emit func(fragment string) error) (*generate.Answer, error)
	Grade(chunks []retrieval.Chunk) (generate.Confidence, string)
}

// Sessions is the slice of the session store the graph touches.
type Sessions interface {
	GetOrCreate(ctx context.Context, id string) (*session.Info, error)
	AppendTurn(ctx context.Context, id, role, content string) error
	History(ctx context.Context, id string, limit int) ([]session.Turn, error)
}

// Result is the outcome of one orchestrated query.
type Result struct {
	SessionID  string                  `json:"session_id"`
	Intent     intent.Intent           `json:"intent"`
	Answer     string                  `json:"answer"`
	Confidence generate.Confidence     `json:"confidence"`
	Metrics    generate.QualityMetrics `json:"quality_metrics"`
	Chunks     []retrieval.Chunk       `json:"-"`
}

// Graph wires the pipeline stages.
type Graph struct {
	classifier Classifier
	retriever  Retriever
	generator  Generator
	sessions   Sessions
	logger     *slog.Logger

	// historyLimit caps turns loaded for the generation prompt.
	historyLimit int
}

// New builds a Graph over the four stages.
func New(classifier Classifier, retriever Retriever, generator Generator, sessions Sessions, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		classifier:   classifier,
		retriever:    retriever,
		generator:    generator,
		sessions:     sessions,
		logger:       logger,
		historyLimit: 10,
	}
}

// Run executes the pipeline synchronously.
func (g *Graph) Run(ctx context.Context, query, sessionID string) (*Result, error) {
	if query == "" {
		return nil, shoperr.Newf(shoperr.CodeValidationFailure, "query must not be empty")
	}

	ctx, span := observability.StartSpan(ctx, "graph.run",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	it := g.classify(ctx, query)
	span.SetAttributes(attribute.String("query.intent", string(it)))

	chunks := g.retrieve(ctx, it, query)
	history := g.history(ctx, sessionID)

	start := time.Now()
	answer, err := g.generator.Generate(ctx, query, chunks, history)
	observability.RecordStage("generate", time.Since(start))
	if err != nil {
		span.RecordError(err)
		observability.RecordQuery(string(it), "", "error")
		return nil, err
	}

	g.persistTurn(ctx, sessionID, query, answer.Text)
	observability.RecordQuery(string(it), string(answer.Confidence), "ok")

	return &Result{
		SessionID:  sessionID,
		Intent:     it,
		Answer:     answer.Text,
		Confidence: answer.Confidence,
		Metrics:    answer.Metrics,
		Chunks:     chunks,
	}, nil
}

// RunStream executes the pipeline and emits events on the returned channel
// in fixed order: intent, metadata, content fragments, final, complete. On
// unrecoverable failure an error event replaces final and complete. The
// channel is closed when the run ends; emission stops as soon as ctx is
// canceled.
func (g *Graph) RunStream(ctx context.Context, query, sessionID string) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		emit := func(ev Event) bool {
			select {
			case <-ctx.Done():
				return false
			case events <- ev:
				return true
			}
		}

		if query == "" {
			err := shoperr.Newf(shoperr.CodeValidationFailure, "query must not be empty")
			emit(errorEvent(err))
			return
		}

		ctx, span := observability.StartSpan(ctx, "graph.run_stream",
			trace.WithAttributes(attribute.String("session.id", sessionID)),
		)
		defer span.End()

		it := g.classify(ctx, query)
		if !emit(Event{ChunkType: EventIntent, Intent: string(it)}) {
			return
		}

		chunks := g.retrieve(ctx, it, query)
		_, quality := g.generator.Grade(chunks)
		if !emit(Event{
			ChunkType:        EventMetadata,
			ContextCount:     intPtr(len(chunks)),
			RetrievalQuality: quality,
		}) {
			return
		}

		history := g.history(ctx, sessionID)

		start := time.Now()
		answer, err := g.generator.GenerateStream(ctx, query, chunks, history, func(fragment string) error {
			if !emit(Event{ChunkType: EventContent, Content: fragment, IsFinal: boolPtr(false)}) {
				return ctx.Err()
			}
			return nil
		})
		observability.RecordStage("generate", time.Since(start))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			span.RecordError(err)
			observability.RecordQuery(string(it), "", "error")
			emit(errorEvent(err))
			return
		}

		if !emit(Event{ChunkType: EventContent, Content: "", IsFinal: boolPtr(true)}) {
			return
		}
		if !emit(Event{
			ChunkType:      EventFinal,
			Confidence:     string(answer.Confidence),
			QualityMetrics: &answer.Metrics,
		}) {
			return
		}

		g.persistTurn(ctx, sessionID, query, answer.Text)
		observability.RecordQuery(string(it), string(answer.Confidence), "ok")

		emit(Event{ChunkType: EventComplete})
	}()

	return events
}

// classify never blocks the pipeline: any failure falls back to FAQ.
func (g *Graph) classify(ctx context.Context, query string) intent.Intent {
	start := time.Now()
	defer func() { observability.RecordStage("classify", time.Since(start)) }()

	it, err := g.classifier.Classify(ctx, query)
	if err != nil {
		g.logger.Warn("intent classification failed, falling back to FAQ", "error", err)
		return intent.FAQ
	}
	return it
}

// retrieve skips the index for routes that do not need it and degrades to
// empty context when retrieval fails.
func (g *Graph) retrieve(ctx context.Context, it intent.Intent, query string) []retrieval.Chunk {
	if !it.NeedsRetrieval() {
		return nil
	}

	start := time.Now()
	defer func() { observability.RecordStage("retrieve", time.Since(start)) }()

	chunks, err := g.retriever.Retrieve(ctx, query)
	if err != nil {
		g.logger.Warn("retrieval failed, proceeding without context", "error", err)
		return nil
	}
	return chunks
}

func (g *Graph) history(ctx context.Context, sessionID string) []session.Turn {
	if _, err := g.sessions.GetOrCreate(ctx, sessionID); err != nil {
		g.logger.Warn("session load failed, proceeding without history", "session_id", sessionID, "error", err)
		return nil
	}
	turns, err := g.sessions.History(ctx, sessionID, g.historyLimit)
	if err != nil {
		g.logger.Warn("history load failed, proceeding without history", "session_id", sessionID, "error", err)
		return nil
	}
	return turns
}

// persistTurn records the exchange. Store outages are logged, never
// surfaced.
func (g *Graph) persistTurn(ctx context.Context, sessionID, query, answer string) {
	start := time.Now()
	defer func() { observability.RecordStage("persist", time.Since(start)) }()

	if err := g.sessions.AppendTurn(ctx, sessionID, session.RoleUser, query); err != nil {
		g.logger.Warn("persisting user turn failed", "session_id", sessionID, "error", err)
		return
	}
	if err := g.sessions.AppendTurn(ctx, sessionID, session.RoleAssistant, answer); err != nil {
		g.logger.Warn("persisting assistant turn failed", "session_id", sessionID, "error", err)
	}
}

const errorFallback = "I'm experiencing technical difficulties. Please try your question again."

func errorEvent(err error) Event {
	ev := Event{
		ChunkType: EventError,
		Error:     err.Error(),
		Fallback:  errorFallback,
	}
	var te *shoperr.Error
	if errors.As(err, &te) {
		ev.ErrorCode = te.NumericCode()
	}
	return ev
}
