package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lingosum/intake/internal/auth"
	"github.com/lingosum/intake/internal/batch"
	"github.com/lingosum/intake/internal/client"
	"github.com/lingosum/intake/internal/config"
	"github.com/lingosum/intake/internal/handler"
	"github.com/lingosum/intake/internal/intake"
	"github.com/lingosum/intake/internal/middleware"
	"github.com/lingosum/intake/internal/model"
	"github.com/lingosum/intake/internal/service"
	"github.com/lingosum/intake/internal/utils"
	ws "github.com/lingosum/intake/internal/websocket"
	"github.com/lingosum/intake/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := utils.InitLogger(cfg.Server.LogLevel, cfg.Server.Env); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer utils.SyncLogger()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		utils.Zlog.Warn("Redis not available", zap.Error(err))
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
	hub := ws.NewHub(cfg.Notify.ExpiresIn)
	go hub.Run()

	// Intake pipeline: local registry tier plus the tier shared with the CLI
	shared, err := newSharedStore(ctx, cfg, redisClient)
	if err != nil {
		utils.Zlog.Fatal("Failed to init shared store", zap.Error(err))
	}
	registry := intake.NewRegistry(intake.NewMemoryStore(), shared)
	tracker := intake.NewTracker()
	summarizer := client.NewSummarizerClient(&cfg.Summarizer)
	defaults := service.Defaults{
		TargetLanguage:     cfg.Summarizer.DefaultLanguage,
		Bounds:             model.LengthBounds{Min: cfg.Summarizer.MinLength, Max: cfg.Summarizer.MaxLength},
		PreserveFormatting: cfg.Summarizer.PreserveFormatting,
	}

	// Initialize services
	intakeService := service.NewIntakeService(service.IntakeDeps{
		Policy:      intake.NewPolicy(cfg.Intake.MaxBytes, cfg.Intake.AllowedMimeTypes),
		Registry:    registry,
		Tracker:     tracker,
		Coordinator: batch.NewCoordinator(registry, tracker, cfg.Intake.GroupSize),
		Summarizer:  summarizer,
		Notifier:    hub,
		Defaults:    defaults,
		SessionTTL:  time.Duration(cfg.Intake.SessionTTL) * time.Minute,
	})
	intakeService.StartJanitor(ctx, time.Minute)
	batchService := service.NewBatchService(redisClient, asynqClient, intakeService)
	textService := service.NewTextService(summarizer, defaults)

	// Initialize handlers
	handlers := &handler.Handlers{
		Intake:    handler.NewIntakeHandler(intakeService, batchService, validate),
		Batches:   handler.NewBatchHandler(batchService),
		Summarize: handler.NewSummarizeHandler(textService, validate),
		Hub:       hub,
	}

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	if cfg.OIDC.Issuer != "" {
		verifier, err := auth.NewJWKSVerifier(ctx, auth.Options{
			Issuer:   cfg.OIDC.Issuer,
			Audience: cfg.OIDC.Audience,
			JWKSURL:  cfg.OIDC.JWKSURL,
		})
		if err != nil {
			utils.Zlog.Fatal("Failed to init JWKS verifier", zap.Error(err))
		}
		authMiddleware = middleware.NewAuthMiddlewareWithVerifier(verifier, cfg.JWT.Secret)
		utils.Zlog.Info("OIDC authentication enabled", zap.String("issuer", cfg.OIDC.Issuer))
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		// Several files per request; each is still checked against the policy
		BodyLimit: int(cfg.Intake.MaxBytes)*10 + 1024*1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	handler.RegisterRoutes(app, handlers, authMiddleware.Authenticate(), rateLimiter, cfg.RateLimit)

	// Start Asynq worker server
	go startWorkerServer(cfg, batchService)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		utils.Zlog.Info("Shutting down server...")
		cancel()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			utils.Zlog.Error("Server shutdown error", zap.Error(err))
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	utils.Zlog.Info("Server starting",
		zap.String("addr", addr),
		zap.String("summarizer", cfg.Summarizer.BaseURL),
		zap.Int("groupSize", cfg.Intake.GroupSize))
	if err := app.Listen(addr); err != nil {
		utils.Zlog.Fatal("Server error", zap.Error(err))
	}
}

// newSharedStore returns the shared registry tier selected by the storage
// config.
func newSharedStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (intake.Store, error) {
	if !cfg.Storage.UsesObjectStore() {
		return intake.NewRedisStore(redisClient, time.Duration(cfg.Intake.SharedPayloadTTL)*time.Minute), nil
	}
	store, err := intake.NewObjectStore(ctx, intake.ObjectStoreOptions{
		AccountID:       cfg.Storage.AccountID,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		BucketName:      cfg.Storage.BucketName,
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		PathStyle:       cfg.Storage.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	utils.Zlog.Info("Shared payloads stored in bucket", zap.String("bucket", cfg.Storage.BucketName))
	return store, nil
}

func startWorkerServer(cfg *config.Config, batchService *service.BatchService) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"batch": 1,
			},
		},
	)

	batchWorker := worker.NewBatchWorker(batchService)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeBatch, batchWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		utils.Zlog.Error("Asynq worker error", zap.Error(err))
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errCode := "SERVICE_ERROR"
	if code == fiber.StatusRequestEntityTooLarge {
		errCode = "FILE_TOO_LARGE"
		message = fmt.Sprintf("Request exceeds the %d byte upload limit", c.App().Config().BodyLimit)
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    errCode,
			"message": message,
		},
	})
}
