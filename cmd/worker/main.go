package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/push-engine/internal/app"
	"github.com/kursadbilgin/push-engine/internal/config"
	"github.com/kursadbilgin/push-engine/internal/handler"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/queue"
	"github.com/kursadbilgin/push-engine/internal/service"
	"github.com/kursadbilgin/push-engine/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger("worker", cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.Connect(ctx, cfg, "push-engine-worker", logger)
	if err != nil {
		logger.Fatal("infrastructure initialization failed", zap.Error(err))
	}
	defer infra.Close() //nolint:errcheck

	metrics := observability.NewMetrics()

	pushService, err := app.NewPushService(ctx, cfg, infra, metrics, logger)
	if err != nil {
		logger.Fatal("push service initialization failed", zap.Error(err))
	}

	consumer := queue.NewRabbitMQConsumer(infra.Rabbit, 1, logger)
	defer consumer.Close() //nolint:errcheck

	worker, err := service.NewWorkerService(pushService, consumer, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	ops := fiber.New(fiber.Config{
		AppName:               "push-engine-worker",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	ops.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(ops, map[string]handler.Pinger{
		"postgres": infra.SQL,
		"redis": handler.PingFunc(func(ctx context.Context) error {
			return infra.Redis.Ping(ctx).Err()
		}),
		"rabbitmq": handler.PingFunc(infra.Rabbit.Ping),
	})

	go func() {
		if err := ops.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort)); err != nil {
			logger.Error("worker ops server stopped", zap.Error(err))
		}
	}()

	logger.Info("push-engine worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("metricsPort", cfg.WorkerMetricsPort),
	)

	if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
	}

	if err := ops.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("worker ops server shutdown failed", zap.Error(err))
	}
	logger.Info("push-engine worker stopped")
}
