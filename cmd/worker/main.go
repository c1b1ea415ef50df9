package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/forgeline/forgeline/internal/app"
	"github.com/forgeline/forgeline/internal/outbox"
	"github.com/forgeline/forgeline/internal/platform/cache"
	"github.com/forgeline/forgeline/internal/platform/db"
	"github.com/forgeline/forgeline/internal/shared"
	"github.com/forgeline/forgeline/internal/wo"
	"github.com/forgeline/forgeline/jobs"
)

type woAdapter struct {
	service *wo.Service
}

func (a woAdapter) CreateWorkOrder(ctx context.Context, moID, operationName string, sequence int) (string, error) {
	order, err := a.service.Create(ctx, wo.CreateInput{
		MOID:          moID,
		OperationName: operationName,
		Sequence:      sequence,
	})
	if err != nil {
		return "", err
	}
	return order.ID, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	outboxWriter := outbox.NewWriter()
	outboxRepo := outbox.NewRepository(pool)
	relay := outbox.NewRelay(outboxRepo, redisClient, cfg.OutboxStream, cfg.OutboxBatchSize, logger)

	idempotencyStore := shared.NewIdempotencyStore(pool)

	woRepo := wo.NewRepository(pool, outboxWriter)
	woService := wo.NewService(woRepo, logger)
	reconciler := jobs.NewWOReconciler(pool, woAdapter{service: woService}, logger)

	now := time.Now().UTC()
	relayTask, err := jobs.NewOutboxRelayTask(now)
	if err != nil {
		logger.Error("build relay task", slog.Any("error", err))
		os.Exit(1)
	}
	reconcileTask, err := jobs.NewWOReconcileTask(now)
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(now)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOutboxRelay, Handler: jobs.NewOutboxRelayHandler(relay, logger)},
			{Type: jobs.TaskWOReconcile, Handler: jobs.NewWOReconcileHandler(reconciler, logger)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idempotencyStore, cfg.IdempotencyTTL, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every " + cfg.OutboxInterval.String(), Task: relayTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/5 * * * *", Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("configure worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
