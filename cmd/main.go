package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/easygp/server/adapters/gemini"
	"github.com/easygp/server/adapters/llama"
	"github.com/easygp/server/adapters/memory"
	"github.com/easygp/server/adapters/mockllm"
	mongostore "github.com/easygp/server/adapters/mongo"
	"github.com/easygp/server/domain/repositories"
	"github.com/easygp/server/internal/api"
	"github.com/easygp/server/internal/config"
	"github.com/easygp/server/internal/feed"
	"github.com/easygp/server/internal/websocket"
	"github.com/easygp/server/usecase"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Completion backend
	client := newCompletionClient(cfg, logger)

	// Storage backend publishing into one shared change feed
	hub := feed.NewHub()
	episodes, messages, symptoms, cleanup := newStorage(cfg, hub, logger)
	defer cleanup()

	consult := usecase.NewConsultService(client, episodes, messages, symptoms, usecase.Config{
		FreeTextTemperature:   cfg.FreeTextTemperature,
		StructuredTemperature: cfg.StructuredTemperature,
		MaxTokens:             cfg.MaxTokens,
		ChatDeadline:          cfg.ChatDeadline,
		ProcessingDeadline:    cfg.ProcessingDeadline,
	}, logger)

	watcher := feed.NewWatcher(hub, messages, symptoms, logger)

	// Initialize API routes
	handler := api.NewHandler(consult, episodes, messages, symptoms, logger)
	api.InitRoutes(e, handler, websocket.NewHandler(watcher, logger))

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("llm_backend", cfg.LLMBackend),
		zap.String("store_backend", cfg.StoreBackend))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newCompletionClient(cfg config.Config, logger *zap.Logger) repositories.CompletionClient {
	switch cfg.LLMBackend {
	case config.LLMBackendGemini:
		client, err := gemini.NewClient(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			logger.Fatal("Failed to create Gemini client", zap.Error(err))
		}
		return client
	case config.LLMBackendMock:
		return mockllm.NewClient()
	default:
		return llama.NewClient(cfg.LlamaBaseURL, logger)
	}
}

func newStorage(cfg config.Config, hub repositories.ChangeFeed, logger *zap.Logger) (
	repositories.EpisodeRepository,
	repositories.MessageRepository,
	repositories.SymptomRepository,
	func(),
) {
	if cfg.StoreBackend == config.StoreBackendMongo {
		client, err := mongostore.NewClient(cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		cleanup := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Close(ctx)
		}
		return mongostore.NewEpisodeRepository(client.Database, hub),
			mongostore.NewMessageRepository(client.Database, hub),
			mongostore.NewSymptomRepository(client.Database, hub),
			cleanup
	}

	store := memory.NewStore(hub)
	return store.Episodes(), store.Messages(), store.Symptoms(), func() {}
}
