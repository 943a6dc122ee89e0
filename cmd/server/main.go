package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/amharic-code-craft/orchestrator/internal/client"
	"github.com/amharic-code-craft/orchestrator/internal/config"
	"github.com/amharic-code-craft/orchestrator/internal/handler"
	"github.com/amharic-code-craft/orchestrator/internal/middleware"
	"github.com/amharic-code-craft/orchestrator/internal/service"
	"github.com/amharic-code-craft/orchestrator/internal/worker"
	ws "github.com/amharic-code-craft/orchestrator/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize AI client (optional - mock generation when not configured)
	aiClient := client.NewAIClient(&cfg.AI)
	if !aiClient.IsConfigured() {
		log.Println("Info: AI provider not configured, using mock generation")
	}

	// Initialize services
	qualityService := service.NewQualityService(redisClient)
	jobService := service.NewJobService(redisClient, asynqClient, qualityService, hub)
	confirmationService := service.NewConfirmationService(redisClient, asynqClient, hub, cfg.Confirmation.TTL)
	experimentService := service.NewExperimentService(redisClient, nil)
	thinkingService := service.NewThinkingService(redisClient, hub)

	// Initialize handlers
	jobHandler := handler.NewJobHandler(jobService, validate)
	confirmationHandler := handler.NewConfirmationHandler(confirmationService, validate)
	experimentHandler := handler.NewExperimentHandler(experimentService, validate)
	qualityHandler := handler.NewQualityHandler(qualityService, validate)
	thinkingHandler := handler.NewThinkingHandler(thinkingService, validate)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"ai":   aiClient.IsConfigured(),
				"auth": cfg.JWT.Secret != "",
			},
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	// Job routes
	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.JobsLimit(cfg.RateLimit.JobsPerHour), jobHandler.Create)
	jobs.Get("/:jobId", jobHandler.Get)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)

	// Confirmation routes
	confirmations := api.Group("/confirmations", rateLimiter.ConfirmationsLimit(cfg.RateLimit.ConfirmationsPerMin))
	confirmations.Post("/evaluate", confirmationHandler.Evaluate)
	confirmations.Post("/", confirmationHandler.Request)
	confirmations.Get("/:id", confirmationHandler.Get)
	confirmations.Post("/:id/resolve", confirmationHandler.Resolve)

	// Experiment routes
	experiments := api.Group("/experiments", rateLimiter.ExperimentsLimit(cfg.RateLimit.ExperimentsPerHour))
	experiments.Post("/", experimentHandler.Create)
	experiments.Get("/routing/:patternId", experimentHandler.GetRouting)
	experiments.Get("/:id", experimentHandler.GetStats)
	experiments.Post("/:id/results", experimentHandler.RecordResult)
	experiments.Post("/:id/conclude", experimentHandler.Conclude)

	// Quality gate routes
	quality := api.Group("/quality")
	quality.Post("/evaluate", qualityHandler.Evaluate)
	quality.Put("/policy", qualityHandler.SetPolicy)
	quality.Get("/policy", qualityHandler.GetPolicy)

	// Thinking step routes
	thinking := api.Group("/thinking", rateLimiter.TelemetryLimit(cfg.RateLimit.TelemetryPerMin))
	thinking.Post("/:scopeId/steps", thinkingHandler.Emit)
	thinking.Get("/:scopeId", thinkingHandler.Get)
	thinking.Delete("/:scopeId", thinkingHandler.Clear)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	app.Get("/ws/thinking/:scopeId", websocket.New(func(c *websocket.Conn) {
		scopeID := c.Params("scopeId")
		hub.HandleConnection(c, scopeID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, jobService, confirmationService, experimentService, thinkingService, aiClient)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	jobService *service.JobService,
	confirmationService *service.ConfirmationService,
	experimentService *service.ExperimentService,
	thinkingService *service.ThinkingService,
	aiClient *client.AIClient,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				"generation":  6,
				"maintenance": 4,
			},
			LogLevel: asynqLogLevel,
		},
	)

	generationWorker := worker.NewGenerationWorker(
		jobService,
		confirmationService,
		experimentService,
		thinkingService,
		aiClient,
		cfg.Confirmation.PollInterval,
	)
	expiryWorker := worker.NewExpiryWorker(confirmationService)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeGeneration, generationWorker.ProcessTask)
	mux.HandleFunc(service.TaskTypeConfirmationExpiry, expiryWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
