package graph

import "github.com/shopgraph/shopgraph/internal/generate"

// Event chunk types, emitted in fixed order: intent, metadata, content
// (repeated), final, complete. An error event replaces final and complete
// on unrecoverable failure.
const (
	EventIntent   = "intent"
	EventMetadata = "metadata"
	EventContent  = "content"
	EventFinal    = "final"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one streaming frame. Fields are populated per chunk type.
type Event struct {
	ChunkType        string                   `json:"chunk_type"`
	Intent           string                   `json:"intent,omitempty"`
	ContextCount     *int                     `json:"context_count,omitempty"`
	RetrievalQuality string                   `json:"retrieval_quality,omitempty"`
	Content          string                   `json:"content,omitempty"`
	IsFinal          *bool                    `json:"is_final,omitempty"`
	Confidence       string                   `json:"confidence,omitempty"`
	QualityMetrics   *generate.QualityMetrics `json:"quality_metrics,omitempty"`
	Error            string                   `json:"error,omitempty"`
	ErrorCode        int                      `json:"error_code,omitempty"`
	Fallback         string                   `json:"fallback,omitempty"`
}

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }
