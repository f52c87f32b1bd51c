package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/docpilot/backend/internal/api/handlers"
	cacheredis "github.com/docpilot/backend/internal/cache/redis"
	"github.com/docpilot/backend/internal/fusion"
	"github.com/docpilot/backend/internal/generation"
	"github.com/docpilot/backend/internal/ingestion"
	"github.com/docpilot/backend/internal/llm"
	"github.com/docpilot/backend/internal/metrics"
	"github.com/docpilot/backend/internal/middleware/identity"
	"github.com/docpilot/backend/internal/observability"
	"github.com/docpilot/backend/internal/pipeline"
	"github.com/docpilot/backend/internal/ratelimit"
	"github.com/docpilot/backend/internal/retrieval"
	"github.com/docpilot/backend/internal/storage/sqlite"
	"github.com/docpilot/backend/internal/tools"
	"github.com/docpilot/backend/internal/vector/milvus"
	"github.com/docpilot/backend/pkg/config"
	appLogger "github.com/docpilot/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting docpilot API server")

	metrics.Init()

	ctx := context.Background()

	shutdownTracing, err := observability.Init(ctx, cfg.Tracing)
	if err != nil {
		appLogger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(ctx, cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	if err := milvusClient.EnsureCollection(ctx); err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	// Redis is optional: without it the embedding cache is skipped and rate
	// limit buckets live in process memory.
	var embeddingCache retrieval.EmbeddingCache
	var limiterStore ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.Redis.Enabled {
		redisClient, err := cacheredis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, using in-memory rate limiting and no embedding cache", zap.Error(err))
		} else {
			defer redisClient.Close()
			embeddingCache = redisClient
			limiterStore = ratelimit.NewRedisStore(redisClient.Universal())
		}
	}

	limiter := ratelimit.NewLimiter(limiterStore, ratelimit.Limits{
		Query:  cfg.RateLimit.QueryLimit,
		Upload: cfg.RateLimit.UploadLimit,
		Window: time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
	})

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	denseRetriever := retrieval.NewDenseRetriever(
		llmClient,
		milvusClient,
		embeddingCache,
		time.Duration(cfg.Pipeline.RetrieveTimeout)*time.Second,
	)
	lexicalRetriever := retrieval.NewLexicalRetriever(sqliteClient)
	if err := lexicalRetriever.Refresh(ctx); err != nil {
		appLogger.Warn("Initial lexical index build failed", zap.Error(err))
	}

	fuser := fusion.NewFuser(cfg.Pipeline.DenseWeight)
	reranker := fusion.NewEmbeddingReranker(
		llmClient,
		cfg.Pipeline.RerankPool,
		time.Duration(cfg.Pipeline.RerankTimeout)*time.Second,
	)

	registry := tools.DefaultRegistry(llmClient)
	router := tools.NewRouter(registry, llmClient, cfg.Features.DocActions)

	generator := generation.NewGenerator(llmClient.Direct(), cfg.LLM.MaxTokens, cfg.LLM.Temperature)
	planner := generation.NewPlanner(llmClient, cfg.Pipeline.MaxFanOut)
	suggester := generation.NewSuggester(llmClient)

	engine := pipeline.NewEngine(
		denseRetriever,
		lexicalRetriever,
		fuser,
		reranker,
		planner,
		router,
		generator,
		suggester,
		sqliteClient,
		pipeline.Options{
			DefaultK:         cfg.Pipeline.DefaultK,
			MaxK:             cfg.Pipeline.MaxK,
			MaxContextTokens: cfg.Pipeline.MaxContextTokens,
			MaxFanOut:        cfg.Pipeline.MaxFanOut,
			Features:         cfg.Features,
		},
	)

	processor := ingestion.NewProcessor(
		sqliteClient,
		milvusClient,
		llmClient,
		lexicalRetriever,
		cfg.Ingestion.ChunkSizeWords,
		cfg.Ingestion.ChunkOverlapWords,
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Session-ID, X-Request-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(identity.Middleware())

	queryHandler := handlers.NewQueryHandler(engine, limiter, sqliteClient)
	documentHandler := handlers.NewDocumentHandler(processor, limiter, cfg.Ingestion.MaxUploadBytes)

	api := app.Group("/api/v1")

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/query/history", queryHandler.GetQueryHistory)

	api.Post("/documents", documentHandler.UploadDocument)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		appLogger.Warn("Tracing shutdown failed", zap.Error(err))
	}

	appLogger.Info("Server stopped")
}
