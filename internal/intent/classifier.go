package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/shopgraph/shopgraph/internal/shoperr"
)

const systemPrompt = `You are an intent classifier for a shopping assistant.
Classify the user's query into exactly one of these intents:

- FAQ: store policies, shipping, returns, payment, account questions
- PRODUCT_SEARCH: product features, specifications, availability, comparisons
- CART_ACTION: adding, viewing, or removing items from the shopping cart
- OUT_OF_SCOPE: anything unrelated to shopping or this store

Respond with a JSON object of the form {"intent": "<LABEL>"} and nothing else.`

// completer is the slice of llm.Client the classifier needs.
type completer interface {
	CompleteJSON(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error)
}

// Classifier maps free-text queries onto the closed intent set using a
// single constrained LLM call.
type Classifier struct {
	llm    completer
	logger *slog.Logger
}

// NewClassifier builds a Classifier over the given completion client.
func NewClassifier(llm completer, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{llm: llm, logger: logger}
}

type classification struct {
	Intent string `json:"intent"`
}

// Classify returns the intent for query. Any backend failure or a label
// outside the closed set yields a classification-failure error; callers
// decide the fallback route.
func (c *Classifier) Classify(ctx context.Context, query string) (Intent, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: query},
	}

	raw, err := c.llm.CompleteJSON(ctx, messages)
	if err != nil {
		return "", shoperr.Wrapf(shoperr.CodeClassificationFailure, err, "intent classification call failed")
	}

	var parsed classification
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		c.logger.Warn("unparseable classifier output", "output", truncate(raw, 200))
		return "", shoperr.Wrapf(shoperr.CodeClassificationFailure, err, "intent classification returned malformed JSON")
	}

	label := strings.ToUpper(strings.TrimSpace(parsed.Intent))
	it, ok := Parse(label)
	if !ok {
		c.logger.Warn("classifier produced unknown label", "label", label)
		return "", shoperr.Newf(shoperr.CodeClassificationFailure, "unknown intent label %q", label)
	}
	return it, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
