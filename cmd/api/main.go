package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldscope/cati-back/internal/config"
	"github.com/fieldscope/cati-back/internal/dialqueue"
	"github.com/fieldscope/cati-back/internal/dispatch"
	httpserver "github.com/fieldscope/cati-back/internal/http"
	"github.com/fieldscope/cati-back/internal/http/handlers"
	"github.com/fieldscope/cati-back/internal/interview"
	"github.com/fieldscope/cati-back/internal/priority"
	"github.com/fieldscope/cati-back/internal/qc"
	"github.com/fieldscope/cati-back/internal/queue"
	"github.com/fieldscope/cati-back/internal/reconcile"
	"github.com/fieldscope/cati-back/internal/repository"
	"github.com/fieldscope/cati-back/internal/worker"
)

// repositories bundles the per-aggregate interfaces so the postgres and
// in-memory stacks wire identically.
type repositories struct {
	entries   repository.EntriesRepository
	calls     repository.CallsRepository
	responses repository.ResponsesRepository
	batches   repository.BatchesRepository
}

func main() {
	logger := log.New(os.Stdout, "[cati-back] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, repoCloser := setupRepositories(ctx, cfg, logger)
	defer repoCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	priorityCache := priority.NewCache(priority.Config{
		TTL:    time.Duration(cfg.PriorityCacheTTLSeconds) * time.Second,
		Source: priority.NewHTTPSource(cfg.PrioritySourceURL, 10*time.Second),
		Logger: logger,
	})

	dispatcher := dispatch.NewClient(dispatch.ClientConfig{
		APIKey:     cfg.ProviderAPIKey,
		BaseURL:    cfg.ProviderBaseURL,
		Timeout:    time.Duration(cfg.DispatchTimeoutMS) * time.Millisecond,
		MaxRetries: cfg.DispatchMaxRetries,
	})

	dialQueue := dialqueue.NewService(
		repos.entries,
		repos.calls,
		dispatcher,
		priorityCache,
		dialqueue.Config{
			FromNumber:         cfg.ProviderFromNumber,
			RingTimeoutFrom:    cfg.RingTimeoutFrom,
			RingTimeoutTo:      cfg.RingTimeoutTo,
			MaxDurationSeconds: cfg.MaxCallDurationSec,
		},
		logger,
	)

	qcEngine := qc.NewEngine(repos.batches, repos.responses, qc.Config{
		SampleFraction:       cfg.QCSampleFraction,
		ApprovalThresholdPct: cfg.QCApprovalThresholdPct,
	}, logger)

	recorder := interview.NewRecorder(
		repos.responses, repos.entries, repos.calls, dialQueue, qcEngine, logger)

	reconciler := reconcile.NewReconciler(
		repos.calls, repos.entries, dialQueue,
		reconcile.Config{
			RecencyWindow: time.Duration(cfg.ReconcileWindowMinutes) * time.Minute,
		},
		logger,
	)

	api := handlers.NewAPI(dialQueue, recorder, qcEngine, producer, repos.batches, logger)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(consumer, reconciler, logger)
		go processor.Start(ctx)
		logger.Printf("delivery worker enabled and started")
	} else {
		logger.Printf("delivery worker disabled by configuration")
	}

	sweeper := qc.NewSweeper(qcEngine,
		time.Duration(cfg.QCSweepIntervalSeconds)*time.Second, logger)
	go sweeper.Start(ctx)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRepositories(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repositories, func()) {
	memory := repositories{
		entries:   repository.NewMemoryEntriesRepository(),
		calls:     repository.NewMemoryCallsRepository(),
		responses: repository.NewMemoryResponsesRepository(),
		batches:   repository.NewMemoryBatchesRepository(),
	}

	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repositories")
		return memory, func() {}
	}

	store, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres store, fallback to memory: %v", err)
		return memory, func() {}
	}
	logger.Printf("postgres store initialized")
	return repositories{
		entries:   store,
		calls:     store,
		responses: store,
		batches:   store,
	}, store.Close
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue fallback")
		local := queue.NewLocalQueue(512, 3, logger)
		return local, local, func() {}
	}

	streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		Stream:      cfg.RedisStream,
		DLQStream:   cfg.RedisDLQ,
		Group:       cfg.RedisGroup,
		Consumer:    cfg.RedisConsumer,
		MaxAttempts: 3,
	})
	if err != nil {
		logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
		local := queue.NewLocalQueue(512, 3, logger)
		return local, local, func() {}
	}

	logger.Printf("redis streams queue initialized")
	return streams, streams, func() {
		_ = streams.Close()
	}
}
