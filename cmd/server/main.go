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
	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/database"
	"github.com/stemsi/exam-engine/internal/events"
	"github.com/stemsi/exam-engine/internal/handler"
	"github.com/stemsi/exam-engine/internal/logger"
	"github.com/stemsi/exam-engine/internal/middleware"
	"github.com/stemsi/exam-engine/internal/repository"
	"github.com/stemsi/exam-engine/internal/router"
	"github.com/stemsi/exam-engine/internal/service"
	"github.com/stemsi/exam-engine/internal/validator"
	"github.com/stemsi/exam-engine/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting exam engine")

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

	// ─── Event Publisher ───────────────────────────────────────────────
	publisher, err := events.NewFromConfig(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event publisher")
	}
	defer publisher.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	answerRepo := repository.NewAnswerRepository(pool)
	resultRepo := repository.NewResultRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	retry := service.NewRetrier(cfg.RetryAttempts, cfg.RetryBaseDelay)
	authService := service.NewAuthService(cfg)
	catalog := service.NewCatalogService(examRepo, rdb, cfg.ExamCacheTTL, log)
	resultCache := service.NewRedisResultCache(rdb, cfg.ResultCacheTTL)
	notifier := service.NewRedisNotifier(rdb)

	deadlines := worker.NewDeadlineWorker(rdb, cfg, log)
	submissions := worker.NewSubmissionQueue(rdb)

	attemptService := service.NewAttemptService(catalog, attemptRepo, answerRepo, deadlines, submissions, notifier, retry, log)
	pipeline := service.NewSubmissionPipeline(attemptRepo, catalog, answerRepo, resultRepo, resultCache, publisher, notifier, retry, log)
	resultService := service.NewResultService(attemptRepo, resultRepo, resultCache, pipeline, log)
	reviewService := service.NewReviewService(catalog, attemptRepo, answerRepo, resultCache, notifier, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	autosaveLimiter := middleware.NewRateLimiter(cfg.AutosaveRatePerMin, time.Minute, middleware.ByUser)

	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService, resultService, log),
		Review:  handler.NewReviewHandler(reviewService, log),
		WS:      handler.NewWSHandler(rdb, attemptService, autosaveLimiter, log, cfg.AllowedOrigins),
		Health: handler.NewHealthHandler(map[string]handler.PingFunc{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	startWorker := func(run func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			run(workerCtx)
		}()
	}

	submissionWorker := worker.NewSubmissionWorker(rdb, pipeline, cfg, log)
	reconcileJob := worker.NewReconcileJob(attemptService, cfg.ReconcileSchedule, log)

	startWorker(func(ctx context.Context) { deadlines.Start(ctx, attemptService.Expire) })
	startWorker(submissionWorker.Start)
	// The first sweep runs before the schedule starts: it re-arms live
	// attempts and expires the ones that ran out while we were down.
	startWorker(func(ctx context.Context) { _ = reconcileJob.Start(ctx) })
	startWorker(func(ctx context.Context) {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				autosaveLimiter.Cleanup(3 * time.Minute)
			}
		}
	})

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, autosaveLimiter, cfg, log)

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

	// 2. Stop workers; the submission worker drains its queue first.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
