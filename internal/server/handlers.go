package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopgraph/shopgraph/internal/guard"
	"github.com/shopgraph/shopgraph/internal/observability"
	"github.com/shopgraph/shopgraph/internal/retrieval"
	"github.com/shopgraph/shopgraph/internal/session"
	"github.com/shopgraph/shopgraph/internal/shoperr"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	orch     Orchestrator
	ingestor Ingestor
	sessions SessionStore
	breaker  BreakerStater
	logger   *slog.Logger
}

// NewHandlers builds the handler set.
func NewHandlers(orch Orchestrator, ingestor Ingestor, sessions SessionStore, breaker BreakerStater, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{orch: orch, ingestor: ingestor, sessions: sessions, breaker: breaker, logger: logger}
}

type queryRequest struct {
	Query     string `json:"query" binding:"required"`
	SessionID string `json:"session_id"`
}

// HandleQuery runs a query synchronously.
// POST /v1/query
func (h *Handlers) HandleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, shoperr.Wrapf(shoperr.CodeValidationFailure, err, "invalid query request"))
		return
	}
	query, err := guard.Screen(req.Query)
	if err != nil {
		writeError(c, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	result, err := h.orch.Run(c.Request.Context(), query, req.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleQueryStream runs a query and streams events as SSE frames.
// POST /v1/query/stream
func (h *Handlers) HandleQueryStream(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, shoperr.Wrapf(shoperr.CodeValidationFailure, err, "invalid query request"))
		return
	}
	query, err := guard.Screen(req.Query)
	if err != nil {
		writeError(c, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Session-ID", req.SessionID)

	events := h.orch.RunStream(c.Request.Context(), query, req.SessionID)

	flusher, _ := c.Writer.(http.Flusher)
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("marshaling stream event failed", "error", err)
			break
		}
		if _, err := c.Writer.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
			// Consumer gone; the producer halts on context cancellation.
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	_, _ = c.Writer.Write([]byte("data: [DONE]\n\n"))
	if flusher != nil {
		flusher.Flush()
	}
}

type documentsRequest struct {
	Documents []retrieval.IngestDocument `json:"documents" binding:"required"`
}

// HandleAddDocuments indexes a document batch.
// POST /v1/documents
func (h *Handlers) HandleAddDocuments(c *gin.Context) {
	var req documentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, shoperr.Wrapf(shoperr.CodeValidationFailure, err, "invalid documents request"))
		return
	}

	result, err := h.ingestor.Ingest(c.Request.Context(), req.Documents)
	if err != nil {
		writeError(c, err)
		return
	}
	observability.AddDocumentsIndexed(result.Indexed)
	c.JSON(http.StatusOK, result)
}

// HandleSessionInfo returns the session profile.
// GET /v1/sessions/:id/info
func (h *Handlers) HandleSessionInfo(c *gin.Context) {
	info, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// HandleConversation returns the conversation history.
// GET /v1/sessions/:id/conversation?limit=N
func (h *Handlers) HandleConversation(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, shoperr.Newf(shoperr.CodeValidationFailure, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	turns, err := h.sessions.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if turns == nil {
		turns = []session.Turn{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "turns": turns})
}

// HandleAnalytics returns computed session statistics.
// GET /v1/sessions/:id/analytics
func (h *Handlers) HandleAnalytics(c *gin.Context) {
	analytics, err := h.sessions.Analytics(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, analytics)
}

type preferencesRequest struct {
	Preferences map[string]any `json:"preferences" binding:"required"`
}

// HandleUpdatePreferences merges preferences into the session.
// POST /v1/sessions/:id/preferences
func (h *Handlers) HandleUpdatePreferences(c *gin.Context) {
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, shoperr.Wrapf(shoperr.CodeValidationFailure, err, "invalid preferences request"))
		return
	}

	if err := h.sessions.UpdatePreferences(c.Request.Context(), c.Param("id"), req.Preferences); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "status": "updated"})
}

// HandleCart returns the session's cart.
// GET /v1/sessions/:id/cart
func (h *Handlers) HandleCart(c *gin.Context) {
	items, err := h.sessions.Cart(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []session.CartItem{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "items": items})
}

// HandleAddCartItem appends an item to the cart.
// POST /v1/sessions/:id/cart/items
func (h *Handlers) HandleAddCartItem(c *gin.Context) {
	var item session.CartItem
	if err := c.ShouldBindJSON(&item); err != nil {
		writeError(c, shoperr.Wrapf(shoperr.CodeValidationFailure, err, "invalid cart item"))
		return
	}

	if err := h.sessions.AddCartItem(c.Request.Context(), c.Param("id"), item); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": c.Param("id"), "status": "added"})
}

// HandleClearCart empties the cart.
// DELETE /v1/sessions/:id/cart
func (h *Handlers) HandleClearCart(c *gin.Context) {
	if err := h.sessions.ClearCart(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "status": "cleared"})
}

// HandleHealth reports liveness plus dependency state.
// GET /health
func (h *Handlers) HandleHealth(c *gin.Context) {
	status := "ok"
	code := http.StatusOK

	redisStatus := "ok"
	if err := h.sessions.Ping(c.Request.Context()); err != nil {
		redisStatus = "unavailable"
		status = "degraded"
	}

	breakerState := h.breaker.State()
	observability.SetBreakerState(int(breakerState))
	if breakerState != retrieval.StateClosed {
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status": status,
		"checks": gin.H{
			"redis":             redisStatus,
			"retrieval_breaker": breakerState.String(),
		},
	})
}

// writeError maps a taxonomy error onto the stable JSON error shape.
func writeError(c *gin.Context, err error) {
	var te *shoperr.Error
	if !errors.As(err, &te) {
		te = shoperr.Wrapf(shoperr.CodeInternal, err, "unexpected failure")
	}

	c.AbortWithStatusJSON(te.HTTPStatus(), gin.H{
		"error": gin.H{
			"code":         string(te.Code),
			"numeric_code": te.NumericCode(),
			"message":      te.Message,
		},
	})
}
