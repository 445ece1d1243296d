package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shopgraph/shopgraph/internal/generate"
	"github.com/shopgraph/shopgraph/internal/graph"
	"github.com/shopgraph/shopgraph/internal/intent"
	"github.com/shopgraph/shopgraph/internal/llm"
	"github.com/shopgraph/shopgraph/internal/observability"
	"github.com/shopgraph/shopgraph/internal/retrieval"
	"github.com/shopgraph/shopgraph/internal/server"
	"github.com/shopgraph/shopgraph/internal/session"
	"github.com/shopgraph/shopgraph/pkg/config"
	"github.com/shopgraph/shopgraph/pkg/embeddings"
	"github.com/shopgraph/shopgraph/pkg/vectorstore"

	// Registers the in-memory vector store provider.
	_ "github.com/shopgraph/shopgraph/pkg/vectorstore/memory"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	observability.RegisterMetrics()
	if err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  cfg.Observability.ServiceName,
		Enabled:      cfg.Observability.ExporterType != "none",
		ExporterType: cfg.Observability.ExporterType,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	// Stage backends.
	embedder, err := embeddings.New(embeddings.Config{
		Provider:   cfg.Embeddings.Provider,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
	})
	if err != nil {
		return fmt.Errorf("init embeddings: %w", err)
	}

	store, err := vectorstore.New(vectorstore.Config{
		Provider:            "memory",
		EmbeddingDimensions: embedder.Dimensions(),
	})
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	defer func() { _ = store.Close() }()

	chatClient := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, llm.Options{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
	})

	sessions, err := session.NewStore(session.Config{
		Addr:            cfg.Session.RedisAddr,
		Password:        cfg.Session.RedisPassword,
		DB:              cfg.Session.RedisDB,
		PoolSize:        cfg.Session.PoolSize,
		SessionTTL:      cfg.Session.SessionTTL,
		ConversationTTL: cfg.Session.ConversationTTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}
	defer func() { _ = sessions.Close() }()

	reaper := session.NewReaper(sessions, cfg.Session.ReapSchedule, logger)
	if err := reaper.Start(); err != nil {
		return fmt.Errorf("start session reaper: %w", err)
	}
	defer reaper.Stop()

	// Pipeline stages.
	breaker := retrieval.NewBreaker(retrieval.BreakerConfig{
		FailureThreshold: cfg.Retrieval.FailureThreshold,
		Cooldown:         cfg.Retrieval.CooldownPeriod,
	})
	retriever := retrieval.NewRetriever(embedder, store, breaker, retrieval.Options{
		TopK:       cfg.Retrieval.TopK,
		MaxRetries: cfg.Retrieval.MaxRetries,
		Backoff:    cfg.Retrieval.RetryBackoff,
	}, logger)

	classifier := intent.NewClassifier(chatClient, logger)
	generator := generate.NewGenerator(chatClient, generate.Options{
		HighRelevance: float32(cfg.Retrieval.HighRelevance),
	}, logger)

	orchestrator := graph.New(classifier, retriever, generator, sessions, logger)

	srv := server.New(cfg.Server, orchestrator, retriever, sessions, breaker, logger)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-quit:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := observability.ShutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}

	logger.Info("shopgraph stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
