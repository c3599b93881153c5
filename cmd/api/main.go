package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/COS301-SE-2025/fitchfork-go/internal/config"
	"github.com/COS301-SE-2025/fitchfork-go/internal/database"
	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
	"github.com/COS301-SE-2025/fitchfork-go/internal/handler"
	"github.com/COS301-SE-2025/fitchfork-go/internal/middleware"
	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
	"github.com/COS301-SE-2025/fitchfork-go/internal/router"
	"github.com/COS301-SE-2025/fitchfork-go/internal/service"
	"github.com/COS301-SE-2025/fitchfork-go/internal/storage"
	"github.com/COS301-SE-2025/fitchfork-go/pkg/sandbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.Assignment{}, &models.AssignmentTask{}, &models.Submission{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	runner, err := sandbox.NewDockerRunner(sandbox.Config{
		Host:         cfg.DockerHost,
		DefaultImage: cfg.SandboxImage,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("failed to create sandbox runner: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	store := storage.NewStore(storage.NewLayout(cfg.StorageRoot))

	loadConfig := func(path string) (*execconfig.Config, error) {
		execCfg, err := execconfig.Load(path, validate)
		if err != nil {
			return nil, err
		}
		return &execCfg, nil
	}

	assignmentRepo := repository.NewAssignmentRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	userRepo := repository.NewUserRepository(db)

	assignmentService := service.NewAssignmentService(assignmentRepo, taskRepo, store, validate, logger)
	readinessService := service.NewReadinessService(assignmentRepo, taskRepo, store, validate, logger)
	attemptService := service.NewAttemptService(assignmentRepo, submissionRepo, store, loadConfig, logger)
	accessService := service.NewAccessService(assignmentRepo, store, loadConfig, logger)
	gradingService := service.NewGradingService(assignmentRepo, submissionRepo, attemptService, store, runner,
		loadConfig, cfg.SandboxImage, int64(cfg.MaxConcurrentRuns), logger)
	statsService := service.NewStatsService(assignmentRepo, submissionRepo, userRepo, store, loadConfig,
		redisClient, cfg.StatsCacheTTL, logger)
	submissionService := service.NewSubmissionService(submissionRepo, statsService, logger)
	gatlamService := service.NewGatlamService(assignmentRepo, submissionRepo, store, runner,
		loadConfig, cfg.SandboxImage, logger)

	assignmentHandler := handler.NewAssignmentHandler(assignmentService, readinessService, gradingService,
		cfg.MemoGenTimeout, validate, logger)
	submissionHandler := handler.NewSubmissionHandler(submissionService, gradingService, attemptService,
		accessService, gatlamService, validate, logger)
	statsHandler := handler.NewStatsHandler(statsService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    64 * 1024 * 1024,
	})

	middleware.Register(app)
	router.Register(app, cfg, router.Dependencies{
		AssignmentHandler: assignmentHandler,
		SubmissionHandler: submissionHandler,
		StatsHandler:      statsHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, cfg)
}

func waitForShutdown(app *fiber.App, cfg config.Config) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
