package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/forgeline/forgeline/internal/app"
	"github.com/forgeline/forgeline/internal/catalog"
	"github.com/forgeline/forgeline/internal/inventory"
	"github.com/forgeline/forgeline/internal/mo"
	"github.com/forgeline/forgeline/internal/outbox"
	"github.com/forgeline/forgeline/internal/platform/cache"
	"github.com/forgeline/forgeline/internal/platform/db"
	"github.com/forgeline/forgeline/internal/shared"
	"github.com/forgeline/forgeline/internal/wo"
	"github.com/forgeline/forgeline/jobs"
)

// woAdapter bridges the saga coordinator's fan-out port to the tracker
// service without coupling the two packages.
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

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect job queue", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("job queue close", slog.Any("error", err))
		}
	}()

	idempotencyStore := shared.NewIdempotencyStore(pool)
	outboxWriter := outbox.NewWriter()
	outboxRepo := outbox.NewRepository(pool)
	outboxHandler := outbox.NewHandler(logger, outboxRepo)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	inventoryRepo := inventory.NewRepository(pool, idempotencyStore, outboxWriter)
	inventoryService := inventory.NewService(inventoryRepo)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	woRepo := wo.NewRepository(pool, outboxWriter)
	woService := wo.NewService(woRepo, logger)
	woHandler := wo.NewHandler(logger, woService)

	moRepo := mo.NewRepository(pool, outboxWriter)
	moService := mo.NewService(moRepo, catalogService, woAdapter{service: woService}, inventoryService, logger)
	moHandler := mo.NewHandler(logger, moService)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Pool:             pool,
		CatalogHandler:   catalogHandler,
		InventoryHandler: inventoryHandler,
		MOHandler:        moHandler,
		WOHandler:        woHandler,
		OutboxHandler:    outboxHandler,
		Relay:            jobsClient,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
