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
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/sopdesk/backend/internal/api/handlers"
	rediscache "github.com/sopdesk/backend/internal/cache/redis"
	"github.com/sopdesk/backend/internal/contextbuilder"
	"github.com/sopdesk/backend/internal/discovery"
	"github.com/sopdesk/backend/internal/index"
	"github.com/sopdesk/backend/internal/llm"
	"github.com/sopdesk/backend/internal/metrics"
	"github.com/sopdesk/backend/internal/search"
	"github.com/sopdesk/backend/internal/storage/sqlite"
	"github.com/sopdesk/backend/internal/wiki"
	"github.com/sopdesk/backend/pkg/config"
	appLogger "github.com/sopdesk/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting SOP knowledge engine")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var cacheClient *rediscache.Client
	cacheClient, err = rediscache.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		time.Duration(cfg.Search.CacheTTLSec)*time.Second,
	)
	if err != nil {
		appLogger.Warn("Redis unavailable, search caching disabled", zap.Error(err))
		cacheClient = nil
	} else {
		defer cacheClient.Close()
	}

	wikiClient := wiki.NewClient(
		cfg.Wiki.BaseURL,
		cfg.Wiki.Username,
		cfg.Wiki.APIToken,
		cfg.Wiki.PageSize,
		time.Duration(cfg.Wiki.TimeoutSec)*time.Second,
		cfg.Wiki.RequestsPerSec,
	)

	store := index.NewStore()
	warmStart(store, sqliteClient)

	var persister discovery.Persister
	var invalidator discovery.CacheInvalidator
	persister = sqliteClient
	if cacheClient != nil {
		invalidator = cacheClient
	}

	syncService := discovery.NewService(
		wikiClient,
		cfg.Wiki.SpaceKey,
		store,
		persister,
		invalidator,
		cfg.Sync.BatchSize,
		time.Duration(cfg.Sync.BatchDelayMS)*time.Millisecond,
	)

	var resultCache search.ResultCache
	if cacheClient != nil {
		resultCache = cacheClient
	}
	searchEngine := search.NewEngine(store, resultCache, cfg.Search.FuzzyThreshold)
	assembler := contextbuilder.NewAssembler(searchEngine, wikiClient)

	var llmClient *llm.Client
	if cfg.LLM.APIKey != "" {
		llmClient = llm.NewClient(
			cfg.LLM.APIKey,
			cfg.LLM.Model,
			cfg.LLM.Temperature,
			cfg.LLM.MaxTokens,
			cfg.LLM.TimeoutSec,
		)
	} else {
		appLogger.Warn("No LLM API key configured, answers disabled")
	}

	syncCtx, cancelSync := context.WithCancel(context.Background())
	go syncService.RunPeriodic(syncCtx, time.Duration(cfg.Sync.IntervalMinutes)*time.Minute)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	assistHandler := handlers.NewAssistHandler(assembler, llmClient)
	searchHandler := handlers.NewSearchHandler(searchEngine)
	syncHandler := handlers.NewSyncHandler(syncService, store)
	sourceSearchHandler := handlers.NewSourceSearchHandler(wikiClient)
	wsHandler := handlers.NewWebSocketHandler(assembler, llmClient)

	api := app.Group("/api/v1")
	api.Post("/assist", assistHandler.HandleAssist)
	api.Get("/search", searchHandler.HandleSearch)
	api.Post("/sync", syncHandler.TriggerSync)
	api.Get("/sync/status", syncHandler.GetSyncStatus)
	api.Get("/documents/:id/quality", syncHandler.GetDocumentQuality)
	api.Get("/source/search", sourceSearchHandler.HandleSourceSearch)

	app.Get("/ws/assist", websocket.New(wsHandler.HandleConnection))
	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"documents": store.Load().Len(),
			"time":      time.Now().Unix(),
		})
	})

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
	cancelSync()
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// warmStart restores the last mirrored document set so search works before
// the first crawl finishes.
func warmStart(store *index.Store, db *sqlite.Client) {
	docs, err := db.LoadDocuments()
	if err != nil {
		appLogger.Warn("Failed to warm start index from SQLite", zap.Error(err))
		return
	}
	if len(docs) == 0 {
		return
	}

	store.Publish(docs, time.Time{})
	appLogger.Info("Index warm started from SQLite", zap.Int("documents", len(docs)))
}
