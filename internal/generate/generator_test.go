package generate

import (
	"context"
	"errors"
	"io"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopgraph/shopgraph/internal/llm"
	"github.com/shopgraph/shopgraph/internal/retrieval"
	"github.com/shopgraph/shopgraph/internal/session"
	"github.com/shopgraph/shopgraph/internal/shoperr"
)

type fakeChat struct {
	response  string
	fragments []string
	err       error
	lastMsgs  []openai.ChatCompletionMessage
	streamErr error
}

func (f *fakeChat) Complete(_ context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	f.lastMsgs = messages
	return f.response, f.err
}

func (f *fakeChat) Stream(_ context.Context, messages []openai.ChatCompletionMessage) (llm.ChatStream, error) {
	f.lastMsgs = messages
	if f.err != nil {
		return nil, f.err
	}
	return &fakeStream{fragments: f.fragments, recvErr: f.streamErr}, nil
}

func (f *fakeChat) Model() string { return "test-model" }

type fakeStream struct {
	fragments []string
	pos       int
	recvErr   error
	closed    bool
}

func (s *fakeStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if s.pos >= len(s.fragments) {
		if s.recvErr != nil {
			return openai.ChatCompletionStreamResponse{}, s.recvErr
		}
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	fragment := s.fragments[s.pos]
	s.pos++
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{Content: fragment}},
		},
	}, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

func chunk(content string, score float32) retrieval.Chunk {
	return retrieval.Chunk{ID: "c", Content: content, Score: score}
}

func TestGenerateConfidencePolicy(t *testing.T) {
	tests := []struct {
		name           string
		chunks         []retrieval.Chunk
		wantConfidence Confidence
		wantQuality    string
		wantDegraded   bool
	}{
		{
			name:           "high relevance context",
			chunks:         []retrieval.Chunk{chunk("returns accepted within 30 days", 0.91)},
			wantConfidence: ConfidenceHigh,
			wantQuality:    "high",
		},
		{
			name:           "weak context",
			chunks:         []retrieval.Chunk{chunk("somewhat related", 0.55)},
			wantConfidence: ConfidenceMedium,
			wantQuality:    "medium",
		},
		{
			name:           "no context",
			chunks:         nil,
			wantConfidence: ConfidenceLow,
			wantQuality:    "none",
			wantDegraded:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeChat{response: "Here is your answer."}
			g := NewGenerator(fake, Options{}, nil)

			answer, err := g.Generate(context.Background(), "return policy?", tt.chunks, nil)
			require.NoError(t, err)

			assert.Equal(t, "Here is your answer.", answer.Text)
			assert.Equal(t, tt.wantConfidence, answer.Confidence)
			assert.Equal(t, tt.wantQuality, answer.Metrics.RetrievalQuality)
			assert.Equal(t, len(tt.chunks), answer.Metrics.ContextCount)
			assert.Equal(t, tt.wantDegraded, answer.Metrics.Degraded)
			assert.Equal(t, "test-model", answer.Metrics.Model)
		})
	}
}

func TestGeneratePromptIncludesContextAndHistory(t *testing.T) {
	fake := &fakeChat{response: "ok"}
	g := NewGenerator(fake, Options{}, nil)

	history := []session.Turn{
		{Role: session.RoleUser, Content: "do you sell headphones?"},
		{Role: session.RoleAssistant, Content: "Yes, several models."},
	}
	chunks := []retrieval.Chunk{chunk("Wireless headphones, 40h battery.", 0.9)}

	_, err := g.Generate(context.Background(), "which has the best battery?", chunks, history)
	require.NoError(t, err)

	require.Len(t, fake.lastMsgs, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, fake.lastMsgs[0].Role)
	assert.Contains(t, fake.lastMsgs[0].Content, "Wireless headphones, 40h battery.")
	assert.Equal(t, openai.ChatMessageRoleUser, fake.lastMsgs[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, fake.lastMsgs[2].Role)
	assert.Equal(t, "which has the best battery?", fake.lastMsgs[3].Content)
}

func TestGenerateFailureSurfaces(t *testing.T) {
	fake := &fakeChat{err: errors.New("backend down")}
	g := NewGenerator(fake, Options{}, nil)

	_, err := g.Generate(context.Background(), "anything", nil, nil)
	require.Error(t, err)
	assert.Equal(t, shoperr.CodeGenerationFailure, shoperr.CodeOf(err))
}

func TestGenerateStream(t *testing.T) {
	fake := &fakeChat{fragments: []string{"Returns ", "are accepted ", "within 30 days."}}
	g := NewGenerator(fake, Options{}, nil)

	var got []string
	answer, err := g.GenerateStream(context.Background(), "return policy?",
		[]retrieval.Chunk{chunk("policy text", 0.9)}, nil,
		func(fragment string) error {
			got = append(got, fragment)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"Returns ", "are accepted ", "within 30 days."}, got)
	assert.Equal(t, "Returns are accepted within 30 days.", answer.Text)
	assert.Equal(t, ConfidenceHigh, answer.Confidence)
}

func TestGenerateStreamEmitAbort(t *testing.T) {
	fake := &fakeChat{fragments: []string{"a", "b", "c"}}
	g := NewGenerator(fake, Options{}, nil)

	abort := errors.New("consumer gone")
	calls := 0
	_, err := g.GenerateStream(context.Background(), "q", nil, nil, func(string) error {
		calls++
		if calls == 2 {
			return abort
		}
		return nil
	})
	require.ErrorIs(t, err, abort)
	assert.Equal(t, 2, calls, "no emission after abort")
}

func TestGenerateStreamRecvFailure(t *testing.T) {
	fake := &fakeChat{fragments: []string{"partial"}, streamErr: errors.New("connection reset")}
	g := NewGenerator(fake, Options{}, nil)

	_, err := g.GenerateStream(context.Background(), "q", nil, nil, func(string) error { return nil })
	require.Error(t, err)
	assert.Equal(t, shoperr.CodeGenerationFailure, shoperr.CodeOf(err))
}
