// Package generate turns a query plus retrieved context into a grounded
// answer with a confidence grade and quality metrics.
package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/shopgraph/shopgraph/internal/llm"
	"github.com/shopgraph/shopgraph/internal/retrieval"
	"github.com/shopgraph/shopgraph/internal/session"
	"github.com/shopgraph/shopgraph/internal/shoperr"
)

// Confidence grades how well the answer is supported by context.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// QualityMetrics describes the answer's provenance.
type QualityMetrics struct {
	ContextCount     int    `json:"context_count"`
	RetrievalQuality string `json:"retrieval_quality"`
	GenerationTimeMS int64  `json:"generation_time_ms"`
	Model            string `json:"model"`
	Degraded         bool   `json:"degraded"`
}

// Answer is the generation result. Immutable once built.
type Answer struct {
	Text       string         `json:"text"`
	Confidence Confidence     `json:"confidence"`
	Metrics    QualityMetrics `json:"quality_metrics"`
}

// Options configures the confidence policy.
type Options struct {
	// MinContext is the minimum chunk count for high confidence.
	MinContext int
	// HighRelevance is the score a chunk must reach for high confidence.
	HighRelevance float32
	// HistoryLimit caps how many prior turns enter the prompt.
	HistoryLimit int
}

func (o *Options) applyDefaults() {
	if o.MinContext <= 0 {
		o.MinContext = 1
	}
	if o.HighRelevance <= 0 {
		o.HighRelevance = 0.8
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 10
	}
}

// chatClient is the slice of llm.Client the generator uses.
type chatClient interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error)
	Stream(ctx context.Context, messages []openai.ChatCompletionMessage) (llm.ChatStream, error)
	Model() string
}

// Generator produces grounded answers over the chat backend.
type Generator struct {
	llm    chatClient
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewGenerator builds a Generator.
func NewGenerator(client chatClient, opts Options, logger *slog.Logger) *Generator {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llm: client, opts: opts, logger: logger, now: time.Now}
}

// Generate produces a complete answer for query given the retrieved
// chunks and recent history. Backend exhaustion surfaces as a
// generation-failure error, never an empty answer.
func (g *Generator) Generate(ctx context.Context, query string, chunks []retrieval.Chunk, history []session.Turn) (*Answer, error) {
	start := g.now()

	text, err := g.llm.Complete(ctx, g.buildMessages(query, chunks, history))
	if err != nil {
		return nil, shoperr.Wrapf(shoperr.CodeGenerationFailure, err, "completion failed")
	}

	return g.buildAnswer(text, chunks, g.now().Sub(start)), nil
}

// GenerateStream produces the answer incrementally, invoking emit for each
// text fragment. A non-nil error from emit aborts the stream. The returned
// Answer carries the full text and the same confidence policy as Generate.
func (g *Generator) GenerateStream(ctx context.Context, query string, chunks []retrieval.Chunk, history []session.Turn, emit func(fragment string) error) (*Answer, error) {
	start := g.now()

	stream, err := g.llm.Stream(ctx, g.buildMessages(query, chunks, history))
	if err != nil {
		return nil, shoperr.Wrapf(shoperr.CodeGenerationFailure, err, "stream open failed")
	}
	defer func() { _ = stream.Close() }()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, shoperr.Wrapf(shoperr.CodeGenerationFailure, err, "stream receive failed")
		}
		if len(resp.Choices) == 0 {
			continue
		}
		fragment := resp.Choices[0].Delta.Content
		if fragment == "" {
			continue
		}
		full.WriteString(fragment)
		if err := emit(fragment); err != nil {
			return nil, err
		}
	}

	return g.buildAnswer(full.String(), chunks, g.now().Sub(start)), nil
}

func (g *Generator) buildAnswer(text string, chunks []retrieval.Chunk, elapsed time.Duration) *Answer {
	confidence, quality := g.Grade(chunks)
	return &Answer{
		Text:       text,
		Confidence: confidence,
		Metrics: QualityMetrics{
			ContextCount:     len(chunks),
			RetrievalQuality: quality,
			GenerationTimeMS: elapsed.Milliseconds(),
			Model:            g.llm.Model(),
			Degraded:         len(chunks) == 0,
		},
	}
}

// Grade applies the confidence policy: high needs enough chunks with at
// least one above the high-relevance score, medium is any non-empty
// context below that, low is no context at all. The second return is the
// retrieval quality label.
func (g *Generator) Grade(chunks []retrieval.Chunk) (Confidence, string) {
	if len(chunks) == 0 {
		return ConfidenceLow, "none"
	}
	var maxScore float32
	for _, c := range chunks {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}
	if len(chunks) >= g.opts.MinContext && maxScore >= g.opts.HighRelevance {
		return ConfidenceHigh, "high"
	}
	return ConfidenceMedium, "medium"
}

const answerPrompt = `You are a helpful shopping assistant for an online store.
Answer the customer's question using the provided context. If the context
does not contain the answer, say so honestly rather than guessing. Keep
answers concise and friendly.`

const degradedPrompt = `You are a helpful shopping assistant for an online store.
No product or policy context is available right now. Answer from general
knowledge where safe, and tell the customer to check the store pages for
authoritative details.`

func (g *Generator) buildMessages(query string, chunks []retrieval.Chunk, history []session.Turn) []openai.ChatCompletionMessage {
	system := answerPrompt
	if len(chunks) == 0 {
		system = degradedPrompt
	} else {
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nContext:\n")
		for i, c := range chunks {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, c.Content)
		}
		system = b.String()
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}

	if n := len(history); n > g.opts.HistoryLimit {
		history = history[n-g.opts.HistoryLimit:]
	}
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == session.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}

	return append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: query})
}
