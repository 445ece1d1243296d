package graph

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopgraph/shopgraph/internal/generate"
	"github.com/shopgraph/shopgraph/internal/intent"
	"github.com/shopgraph/shopgraph/internal/retrieval"
	"github.com/shopgraph/shopgraph/internal/session"
	"github.com/shopgraph/shopgraph/internal/shoperr"
)

type fakeClassifier struct {
	intent intent.Intent
	err    error
}

func (f *fakeClassifier) Classify(context.Context, string) (intent.Intent, error) {
	return f.intent, f.err
}

type fakeRetriever struct {
	chunks []retrieval.Chunk
	err    error
	calls  atomic.Int32
}

func (f *fakeRetriever) Retrieve(context.Context, string) ([]retrieval.Chunk, error) {
	f.calls.Add(1)
	return f.chunks, f.err
}

type fakeGenerator struct {
	text      string
	err       error
	fragments []string
}

func (f *fakeGenerator) answer(chunks []retrieval.Chunk) *generate.Answer {
	confidence, quality := f.Grade(chunks)
	return &generate.Answer{
		Text:       f.text,
		Confidence: confidence,
		Metrics: generate.QualityMetrics{
			ContextCount:     len(chunks),
			RetrievalQuality: quality,
			Model:            "test-model",
			Degraded:         len(chunks) == 0,
		},
	}
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, chunks []retrieval.Chunk, _ []session.Turn) (*generate.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.answer(chunks), nil
}

func (f *fakeGenerator) GenerateStream(_ context.Context, _ string, chunks []retrieval.Chunk, _ []session.Turn, emit func(string) error) (*generate.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, fragment := range f.fragments {
		if err := emit(fragment); err != nil {
			return nil, err
		}
	}
	return f.answer(chunks), nil
}

func (f *fakeGenerator) Grade(chunks []retrieval.Chunk) (generate.Confidence, string) {
	if len(chunks) == 0 {
		return generate.ConfidenceLow, "none"
	}
	for _, c := range chunks {
		if c.Score >= 0.8 {
			return generate.ConfidenceHigh, "high"
		}
	}
	return generate.ConfidenceMedium, "medium"
}

type fakeSessions struct {
	turns     []session.Turn
	appendErr error
	appended  []session.Turn
}

func (f *fakeSessions) GetOrCreate(_ context.Context, id string) (*session.Info, error) {
	return &session.Info{ID: id}, nil
}

func (f *fakeSessions) AppendTurn(_ context.Context, _, role, content string) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, session.Turn{Role: role, Content: content})
	return nil
}

func (f *fakeSessions) History(context.Context, string, int) ([]session.Turn, error) {
	return f.turns, nil
}

func newTestGraph(c *fakeClassifier, r *fakeRetriever, g *fakeGenerator, s *fakeSessions) *Graph {
	return New(c, r, g, s, nil)
}

func TestRunHappyPath(t *testing.T) {
	retriever := &fakeRetriever{chunks: []retrieval.Chunk{
		{ID: "d1", Content: "Returns accepted within 30 days", Score: 0.91},
	}}
	sessions := &fakeSessions{}
	g := newTestGraph(
		&fakeClassifier{intent: intent.FAQ},
		retriever,
		&fakeGenerator{text: "You can return items within 30 days."},
		sessions,
	)

	result, err := g.Run(context.Background(), "What is your return policy?", "s1")
	require.NoError(t, err)

	assert.Equal(t, intent.FAQ, result.Intent)
	assert.Equal(t, generate.ConfidenceHigh, result.Confidence)
	assert.Equal(t, 1, result.Metrics.ContextCount)
	assert.Equal(t, "high", result.Metrics.RetrievalQuality)
	assert.Contains(t, result.Answer, "30 days")

	require.Len(t, sessions.appended, 2)
	assert.Equal(t, session.RoleUser, sessions.appended[0].Role)
	assert.Equal(t, session.RoleAssistant, sessions.appended[1].Role)
}

func TestOutOfScopeSkipsRetrieval(t *testing.T) {
	retriever := &fakeRetriever{}
	g := newTestGraph(
		&fakeClassifier{intent: intent.OutOfScope},
		retriever,
		&fakeGenerator{text: "I can only help with shopping questions."},
		&fakeSessions{},
	)

	result, err := g.Run(context.Background(), "What's the weather?", "s1")
	require.NoError(t, err)

	assert.Zero(t, retriever.calls.Load(), "out-of-scope must never hit the index")
	assert.Equal(t, generate.ConfidenceLow, result.Confidence)
}

func TestCartActionSkipsRetrieval(t *testing.T) {
	retriever := &fakeRetriever{}
	g := newTestGraph(
		&fakeClassifier{intent: intent.CartAction},
		retriever,
		&fakeGenerator{text: "Added to your cart."},
		&fakeSessions{},
	)

	_, err := g.Run(context.Background(), "add headphones to my cart", "s1")
	require.NoError(t, err)
	assert.Zero(t, retriever.calls.Load())
}

func TestClassificationFailureFallsBackToFAQ(t *testing.T) {
	retriever := &fakeRetriever{}
	g := newTestGraph(
		&fakeClassifier{err: shoperr.New(shoperr.CodeClassificationFailure)},
		retriever,
		&fakeGenerator{text: "answer"},
		&fakeSessions{},
	)

	result, err := g.Run(context.Background(), "something", "s1")
	require.NoError(t, err)

	assert.Equal(t, intent.FAQ, result.Intent)
	assert.EqualValues(t, 1, retriever.calls.Load(), "FAQ fallback still retrieves")
}

func TestDegradedRetrieval(t *testing.T) {
	g := newTestGraph(
		&fakeClassifier{intent: intent.ProductSearch},
		&fakeRetriever{err: shoperr.New(shoperr.CodeRetrievalUnavailable)},
		&fakeGenerator{text: "From general knowledge..."},
		&fakeSessions{},
	)

	result, err := g.Run(context.Background(), "best laptop?", "s1")
	require.NoError(t, err, "generation proceeds without context")

	assert.Equal(t, 0, result.Metrics.ContextCount)
	assert.Equal(t, "none", result.Metrics.RetrievalQuality)
	assert.True(t, result.Metrics.Degraded)
	assert.NotEmpty(t, result.Answer)
}

func TestGenerationFailureSurfaces(t *testing.T) {
	g := newTestGraph(
		&fakeClassifier{intent: intent.FAQ},
		&fakeRetriever{},
		&fakeGenerator{err: shoperr.New(shoperr.CodeGenerationFailure)},
		&fakeSessions{},
	)

	_, err := g.Run(context.Background(), "anything", "s1")
	require.Error(t, err)
	assert.Equal(t, shoperr.CodeGenerationFailure, shoperr.CodeOf(err))
}

func TestPersistFailureSwallowed(t *testing.T) {
	g := newTestGraph(
		&fakeClassifier{intent: intent.FAQ},
		&fakeRetriever{},
		&fakeGenerator{text: "answer"},
		&fakeSessions{appendErr: shoperr.New(shoperr.CodeSessionStoreUnavailable)},
	)

	_, err := g.Run(context.Background(), "anything", "s1")
	assert.NoError(t, err, "store outage must not fail the query")
}

func TestEmptyQueryRejected(t *testing.T) {
	g := newTestGraph(&fakeClassifier{}, &fakeRetriever{}, &fakeGenerator{}, &fakeSessions{})

	_, err := g.Run(context.Background(), "", "s1")
	require.Error(t, err)
	assert.Equal(t, shoperr.CodeValidationFailure, shoperr.CodeOf(err))
}

func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestRunStreamEventOrder(t *testing.T) {
	g := newTestGraph(
		&fakeClassifier{intent: intent.FAQ},
		&fakeRetriever{chunks: []retrieval.Chunk{{ID: "d1", Content: "policy", Score: 0.91}}},
		&fakeGenerator{text: "full", fragments: []string{"Returns ", "in 30 days."}},
		&fakeSessions{},
	)

	got := collectEvents(t, g.RunStream(context.Background(), "return policy?", "s1"))
	require.Len(t, got, 7)

	assert.Equal(t, EventIntent, got[0].ChunkType)
	assert.Equal(t, "FAQ", got[0].Intent)

	assert.Equal(t, EventMetadata, got[1].ChunkType)
	require.NotNil(t, got[1].ContextCount)
	assert.Equal(t, 1, *got[1].ContextCount)
	assert.Equal(t, "high", got[1].RetrievalQuality)

	assert.Equal(t, EventContent, got[2].ChunkType)
	assert.Equal(t, "Returns ", got[2].Content)
	assert.False(t, *got[2].IsFinal)
	assert.Equal(t, EventContent, got[3].ChunkType)
	assert.Equal(t, "in 30 days.", got[3].Content)

	assert.Equal(t, EventContent, got[4].ChunkType)
	assert.True(t, *got[4].IsFinal, "last content frame marks the end of text")

	assert.Equal(t, EventFinal, got[5].ChunkType)
	assert.Equal(t, "high", got[5].Confidence)
	require.NotNil(t, got[5].QualityMetrics)
	assert.Equal(t, 1, got[5].QualityMetrics.ContextCount)

	assert.Equal(t, EventComplete, got[6].ChunkType)
}

func TestRunStreamErrorReplacesFinal(t *testing.T) {
	g := newTestGraph(
		&fakeClassifier{intent: intent.FAQ},
		&fakeRetriever{},
		&fakeGenerator{err: shoperr.New(shoperr.CodeGenerationFailure)},
		&fakeSessions{},
	)

	got := collectEvents(t, g.RunStream(context.Background(), "q", "s1"))
	require.NotEmpty(t, got)

	last := got[len(got)-1]
	assert.Equal(t, EventError, last.ChunkType)
	assert.Equal(t, 1003, last.ErrorCode)
	assert.NotEmpty(t, last.Fallback)

	for _, ev := range got {
		assert.NotEqual(t, EventFinal, ev.ChunkType)
		assert.NotEqual(t, EventComplete, ev.ChunkType)
	}
}

func TestRunStreamStopsOnDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := newTestGraph(
		&fakeClassifier{intent: intent.FAQ},
		&fakeRetriever{},
		&fakeGenerator{text: "t", fragments: []string{"a", "b", "c"}},
		&fakeSessions{},
	)

	events := g.RunStream(ctx, "q", "s1")

	// Read the intent event, then walk away.
	ev := <-events
	assert.Equal(t, EventIntent, ev.ChunkType)
	cancel()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return // producer stopped and closed the channel
			}
		case <-timeout:
			t.Fatal("producer did not stop after disconnect")
		}
	}
}
