package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/ingest"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/rubric"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/ai"
	cloud "github.com/noah-isme/gema-grader/pkg/cloudinary"
)

const maxUploadBytes = 64 * 1024 * 1024

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.RequireJWT(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	baseRubric := rubric.Default()
	if cfg.RubricPath != "" {
		baseRubric, err = rubric.LoadFile(cfg.RubricPath)
		if err != nil {
			log.Fatalf("failed to load rubric: %v", err)
		}
	}

	opts := service.EvaluationOptions{
		Policy:             cfg.GradingPolicy(),
		Rubric:             baseRubric,
		EnhancementTimeout: cfg.AITimeout,
		Workers:            cfg.Workers,
		ExportDir:          cfg.ExportDir,
		Events:             service.NewLogEventPublisher(logger),
	}

	if cfg.DatabaseURL != "" {
		db, err := database.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		if err := db.AutoMigrate(&models.EvaluationRun{}, &models.EvaluationResult{}); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
		opts.Repository = repository.NewEvaluationRepository(db)
	} else {
		logger.Warn().Msg("database url not set; evaluation runs will not be persisted")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}
	opts.Enhancer = ai.NewEnhancer(cfg.AIConfig(), redisClient, logger)

	if cfg.NATSURL != "" {
		conn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer conn.Drain()
		opts.Events = service.NewNATSEventPublisher(conn, cfg.EventSubject, logger)
	}

	cloudCfg := cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}
	if cloudCfg.Enabled() {
		reports, err := cloud.New(cloudCfg, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		opts.Reports = reports
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	ingestor := ingest.New(ingest.Config{AllowedExtensions: cfg.AllowedExtensions, MaxBytes: cfg.MaxFileBytes})

	evaluationService := service.NewEvaluationService(opts, logger)
	evaluationHandler := handler.NewEvaluationHandler(evaluationService, ingestor, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    maxUploadBytes,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		EvaluationHandler: evaluationHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
