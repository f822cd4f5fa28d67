package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/glimmer-ai/lorekeeper/pkg/ai"
	"github.com/glimmer-ai/lorekeeper/pkg/config"
	"github.com/glimmer-ai/lorekeeper/pkg/db"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/engine"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/vectorizer"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/vectorstore"
	"github.com/glimmer-ai/lorekeeper/pkg/logging"
)

func main() {
	envs, err := config.LoadConfig(true)
	if err != nil {
		panic(errors.Wrap(err, "Failed to load config"))
	}

	logs := logging.NewFactory(logging.NewLogger(envs.LogLevel))
	logger := logs.ForComponent("server")
	logger.Info("Using database path", "path", envs.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := db.NewStore(ctx, envs.DBPath, logs.ForComponent("db"))
	if err != nil {
		logger.Error("Failed to open store", "error", err)
		panic(errors.Wrap(err, "Failed to open store"))
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	}()

	weaviateClient, err := weaviate.NewClient(weaviate.Config{
		Host:   envs.WeaviateHost,
		Scheme: envs.WeaviateScheme,
	})
	if err != nil {
		logger.Error("Failed to create Weaviate client", "error", err)
		panic(errors.Wrap(err, "Failed to create Weaviate client"))
	}

	index := vectorstore.New(weaviateClient, logs.ForComponent("vectorstore"))
	if err := index.EnsureSchemaExists(ctx); err != nil {
		logger.Error("Failed to ensure vector schema", "error", err)
		panic(errors.Wrap(err, "Failed to ensure vector schema"))
	}

	aiService := ai.NewOpenAIService(logs.ForComponent("ai"), envs.EmbeddingsAPIKey, envs.EmbeddingsAPIURL)

	vectorizerService := vectorizer.NewService(
		store,
		store,
		index,
		aiService,
		logs.ForComponent("vectorizer"),
		envs.EmbeddingsModel,
		envs.TenantID,
	)

	vectorTimeout, err := time.ParseDuration(envs.VectorSearchTimeout)
	if err != nil {
		logger.Warn("Invalid vector search timeout, using default", "value", envs.VectorSearchTimeout)
		vectorTimeout = 0
	}

	activationEngine := engine.New(engine.Config{
		States:          store,
		Searcher:        index,
		Embedder:        aiService,
		Logger:          logs.ForComponent("engine"),
		EmbeddingsModel: envs.EmbeddingsModel,
		TenantID:        envs.TenantID,
		VectorTimeout:   vectorTimeout,
	})

	router := chi.NewRouter()
	router.Use(cors.New(cors.Options{
		AllowCredentials: true,
		AllowedOrigins:   []string{"*"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept"},
		Debug:            false,
	}).Handler)

	api := &apiServer{
		logger:     logger,
		store:      store,
		vectorizer: vectorizerService,
		engine:     activationEngine,
	}
	api.routes(router)

	server := &http.Server{
		Addr:    ":" + envs.HTTPPort,
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server listening", "port", envs.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-signalChan:
		logger.Info("Received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
}
