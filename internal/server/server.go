// Package server exposes the orchestration over HTTP. Handlers are thin
// adapters: they validate input, call the component contracts, and map
// taxonomy errors to status codes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shopgraph/shopgraph/internal/graph"
	"github.com/shopgraph/shopgraph/internal/observability"
	"github.com/shopgraph/shopgraph/internal/retrieval"
	"github.com/shopgraph/shopgraph/internal/session"
	"github.com/shopgraph/shopgraph/pkg/config"
)

// Orchestrator runs queries through the graph.
type Orchestrator interface {
	Run(ctx context.Context, query, sessionID string) (*graph.Result, error)
	RunStream(ctx context.Context, query, sessionID string) <-chan graph.Event
}

// Ingestor indexes documents.
type Ingestor interface {
	Ingest(ctx context.Context, docs []retrieval.IngestDocument) (*retrieval.IngestResult, error)
}

// SessionStore is the slice of the session store the handlers use.
type SessionStore interface {
	Get(ctx context.Context, id string) (*session.Info, error)
	GetOrCreate(ctx context.Context, id string) (*session.Info, error)
	History(ctx context.Context, id string, limit int) ([]session.Turn, error)
	UpdatePreferences(ctx context.Context, id string, prefs map[string]any) error
	AddCartItem(ctx context.Context, id string, item session.CartItem) error
	Cart(ctx context.Context, id string) ([]session.CartItem, error)
	ClearCart(ctx context.Context, id string) error
	Analytics(ctx context.Context, id string) (*session.Analytics, error)
	Ping(ctx context.Context) error
}

// BreakerStater reports the retrieval breaker state for health checks.
type BreakerStater interface {
	State() retrieval.BreakerState
}

// Server is the HTTP front end.
type Server struct {
	cfg      config.ServerConfig
	handlers *Handlers
	logger   *slog.Logger
	http     *http.Server
}

// New builds the server and its router.
func New(cfg config.ServerConfig, orch Orchestrator, ingestor Ingestor, sessions SessionStore, breaker BreakerStater, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		handlers: NewHandlers(orch, ingestor, sessions, breaker, logger),
		logger:   logger,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router assembles the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.logger))
	r.Use(BodySizeLimit(s.cfg.MaxBodyBytes))
	r.Use(RateLimit(s.cfg.RateLimitPerSec, s.cfg.RateLimitBurst))

	r.GET("/health", s.handlers.HandleHealth)
	r.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/query", s.handlers.HandleQuery)
		v1.POST("/query/stream", s.handlers.HandleQueryStream)
		v1.POST("/documents", s.handlers.HandleAddDocuments)

		sessions := v1.Group("/sessions/:id")
		{
			sessions.GET("/info", s.handlers.HandleSessionInfo)
			sessions.GET("/conversation", s.handlers.HandleConversation)
			sessions.GET("/analytics", s.handlers.HandleAnalytics)
			sessions.POST("/preferences", s.handlers.HandleUpdatePreferences)
			sessions.GET("/cart", s.handlers.HandleCart)
			sessions.POST("/cart/items", s.handlers.HandleAddCartItem)
			sessions.DELETE("/cart", s.handlers.HandleClearCart)
		}
	}

	return r
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
