package main

import (
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

	"github.com/prep-agent/backend/internal/api/handlers"
	"github.com/prep-agent/backend/internal/cache"
	"github.com/prep-agent/backend/internal/cache/filestore"
	redisstore "github.com/prep-agent/backend/internal/cache/redis"
	"github.com/prep-agent/backend/internal/intake"
	"github.com/prep-agent/backend/internal/interview"
	"github.com/prep-agent/backend/internal/llm"
	"github.com/prep-agent/backend/internal/metrics"
	"github.com/prep-agent/backend/internal/middleware/ratelimit"
	"github.com/prep-agent/backend/internal/middleware/security"
	"github.com/prep-agent/backend/internal/middleware/validation"
	"github.com/prep-agent/backend/internal/research"
	"github.com/prep-agent/backend/internal/search/web"
	"github.com/prep-agent/backend/internal/storage/sqlite"
	"github.com/prep-agent/backend/pkg/config"
	appLogger "github.com/prep-agent/backend/pkg/logger"
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

	appLogger.Info("Starting Interview Prep Agent API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	cacheStore := buildCacheStore(cfg)
	researchCache := cache.New(cacheStore)
	adapter := research.NewCacheAdapter(researchCache)

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	webClient := web.NewClient(
		cfg.Search.SerpAPIKey,
		llmClient,
		cfg.Search.CostPerSearch,
		time.Duration(cfg.Search.TimeoutSec)*time.Second,
	)

	sources := research.NewSourceSet(
		webClient,
		llmClient,
		adapter,
		time.Duration(cfg.Cache.SearchTTLHours)*time.Hour,
		time.Duration(cfg.Cache.SummaryTTLHours)*time.Hour,
		cfg.Search.MaxResults,
	)

	store := interview.NewStore(sqliteClient, interview.Config{
		DuplicateThreshold: cfg.Research.DuplicateThreshold,
		GrayZoneThreshold:  cfg.Research.GrayZoneThreshold,
		DateWindowDays:     cfg.Research.DateWindowDays,
	})

	hub := research.NewHub()
	loop := research.NewLoop(store, sources, hub, research.LoopConfig{
		QualityThreshold: cfg.Research.QualityThreshold,
		MaxIterations:    cfg.Research.MaxIterations,
		UpstreamTimeout:  time.Duration(cfg.Research.UpstreamTimeoutSec) * time.Second,
	})

	processor := intake.NewProcessor(store, loop)

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
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimit,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	interviewHandler := handlers.NewInterviewHandler(processor, store)
	cacheHandler := handlers.NewCacheHandler(adapter)
	wsHandler := handlers.NewWebSocketHandler(hub)

	api := app.Group("/api/v1")

	api.Post("/interviews", interviewHandler.HandleIntake)
	api.Get("/interviews/unprepped", interviewHandler.GetUnprepped)
	api.Get("/interviews/stats", interviewHandler.GetStats)
	api.Get("/interviews/:id", interviewHandler.GetInterview)
	api.Get("/interviews/:id/history", interviewHandler.GetHistory)
	api.Post("/interviews/:id/transition", interviewHandler.HandleTransition)
	api.Post("/interviews/:id/archive", interviewHandler.HandleArchive)

	api.Get("/cache/stats", cacheHandler.GetStats)
	api.Post("/cache/clear", cacheHandler.HandleClear)

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

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/progress", websocket.New(wsHandler.HandleConnection))

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
	appLogger.Info("Server stopped")
}

// buildCacheStore picks the persistence backend. Neither backend is
// fatal: the cache degrades to memory-only when the store fails.
func buildCacheStore(cfg *config.Config) cache.Store {
	if cfg.Cache.Backend == "redis" {
		store, err := redisstore.NewStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis cache unavailable, falling back to file store", zap.Error(err))
		} else {
			return store
		}
	}

	store, err := filestore.New(cfg.Cache.Dir)
	if err != nil {
		appLogger.Warn("File cache unavailable, running in-memory only", zap.Error(err))
		return nil
	}
	return store
}
