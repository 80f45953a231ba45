package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/quizjourney/internal/config"
	"github.com/stemsi/quizjourney/internal/database"
	"github.com/stemsi/quizjourney/internal/handler"
	"github.com/stemsi/quizjourney/internal/logger"
	"github.com/stemsi/quizjourney/internal/middleware"
	"github.com/stemsi/quizjourney/internal/progress"
	"github.com/stemsi/quizjourney/internal/repository"
	"github.com/stemsi/quizjourney/internal/router"
	"github.com/stemsi/quizjourney/internal/service"
	"github.com/stemsi/quizjourney/internal/validator"
	"github.com/stemsi/quizjourney/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting QuizJourney Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	progressRepo := repository.NewProgressRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	fallbackRepo := repository.NewFallbackRepository(rdb, cfg.FallbackTTL)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, userRepo)
	eventSink := service.NewEventSink(rdb, service.DefaultEventBuffer, log)
	bridge := progress.NewBridge(progressRepo, fallbackRepo, cfg.RemoteWriteTimeout, log)
	progressService := service.NewProgressService(
		bridge, progressRepo, fallbackRepo, eventSink,
		cfg.FlushInterval, cfg.IdleTimeout, log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:     handler.NewAuthHandler(authService),
		Progress: handler.NewProgressHandler(progressService),
		WS:       handler.NewWSHandler(progressService, log, cfg.AllowedOrigins),
		Monitor:  handler.NewMonitorHandler(rdb, progressService, log),
		System:   handler.NewSystemHandler(pool, rdb, progressService),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	eventWorker := worker.NewEventWorker(pool, rdb, log)
	workers.Add(3)
	go func() { defer workers.Done(); eventWorker.Start(workerCtx) }()
	go func() { defer workers.Done(); eventSink.Run(workerCtx) }()
	go func() { defer workers.Done(); progressService.Run(workerCtx) }()

	// ─── Setup Router ──────────────────────────────────────────────────
	authLimiter := middleware.NewRateLimiter(rdb, cfg.AuthRateLimit, time.Minute, log)
	r := router.SetupRouter(authService, authLimiter, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Save every live journey while the event sink still runs.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
	progressService.Shutdown(saveCtx)
	saveCancel()

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
