// Package llm wraps the chat-completion backend with the timeout and retry
// policy every caller of the model must go through. Callers attach their own
// taxonomy code to failures; this package reports only backend mechanics.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ChatBackend is the subset of the OpenAI client the service uses,
// extracted for testability.
type ChatBackend interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// ChatStream yields incremental completion fragments.
type ChatStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// ErrBackendExhausted is returned once the retry budget is spent.
var ErrBackendExhausted = errors.New("llm backend exhausted retries")

// Options configures the client policy.
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
	// Timeout bounds each individual backend attempt.
	Timeout time.Duration
	// MaxRetries is the total number of attempts.
	MaxRetries int
	// Backoff is the base delay between attempts, doubled each retry.
	Backoff time.Duration
}

func (o *Options) applyDefaults() {
	if o.Model == "" {
		o.Model = openai.GPT4oMini
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = 1024
	}
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.Backoff == 0 {
		o.Backoff = 500 * time.Millisecond
	}
}

// Client is a retrying, timeout-bounded chat client.
type Client struct {
	backend ChatBackend
	opts    Options
}

// NewClient creates a client over the given backend.
func NewClient(backend ChatBackend, opts Options) *Client {
	opts.applyDefaults()
	return &Client{backend: backend, opts: opts}
}

// NewOpenAIClient creates a client over the real OpenAI API.
func NewOpenAIClient(apiKey, baseURL string, opts Options) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewClient(openai.NewClientWithConfig(cfg), opts)
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.opts.Model }

// Complete runs a chat completion with retry and per-attempt timeout.
// Returns ErrBackendExhausted (wrapping the last failure) once the budget
// is spent. Context cancellation aborts immediately without further retries.
func (c *Client) Complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	req := c.buildRequest(messages, false)

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.opts.Backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		resp, err := c.backend.CreateChatCompletion(attemptCtx, req)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("backend returned no choices")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("%w after %d attempts: %w", ErrBackendExhausted, c.opts.MaxRetries, lastErr)
}

// CompleteJSON runs a single completion attempt with JSON response format
// enforced and temperature pinned to zero. Classification fails closed, so
// there is no retry loop here: the caller maps any error to its fallback.
func (c *Client) CompleteJSON(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	req := c.buildRequest(messages, false)
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}
	req.Temperature = 0

	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.backend.CreateChatCompletion(attemptCtx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("backend returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream opens a streaming completion. The connect phase is retried under
// the same budget as Complete, with each attempt bounded by the per-attempt
// timeout; once connected, fragments arrive on the caller's context until
// io.EOF. The caller must Close the stream.
func (c *Client) Stream(ctx context.Context, messages []openai.ChatCompletionMessage) (ChatStream, error) {
	req := c.buildRequest(messages, true)

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.opts.Backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		// The stream outlives the connect attempt, so the timeout must not
		// hang off the stream's context. A watchdog cancels only when the
		// connect itself stalls; Close releases the context afterwards.
		attemptCtx, cancel := context.WithCancel(ctx)
		watchdog := time.AfterFunc(c.opts.Timeout, cancel)
		stream, err := c.backend.CreateChatCompletionStream(attemptCtx, req)
		watchdog.Stop()
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		return &cancelStream{ChatCompletionStream: stream, cancel: cancel}, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrBackendExhausted, c.opts.MaxRetries, lastErr)
}

// cancelStream ties the connect context's lifetime to the stream.
type cancelStream struct {
	*openai.ChatCompletionStream
	cancel context.CancelFunc
}

func (s *cancelStream) Close() error {
	err := s.ChatCompletionStream.Close()
	s.cancel()
	return err
}

func (c *Client) buildRequest(messages []openai.ChatCompletionMessage, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    messages,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
		Stream:      stream,
	}
}
