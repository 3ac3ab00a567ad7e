package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/push-engine/internal/app"
	"github.com/kursadbilgin/push-engine/internal/config"
	"github.com/kursadbilgin/push-engine/internal/handler"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/queue"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"github.com/kursadbilgin/push-engine/internal/service"
	"github.com/kursadbilgin/push-engine/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger("api", cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.Connect(ctx, cfg, "push-engine-api", logger)
	if err != nil {
		logger.Fatal("infrastructure initialization failed", zap.Error(err))
	}
	defer infra.Close() //nolint:errcheck

	metrics := observability.NewMetrics()

	pushService, err := app.NewPushService(ctx, cfg, infra, metrics, logger)
	if err != nil {
		logger.Fatal("push service initialization failed", zap.Error(err))
	}

	subscriptionService, err := service.NewSubscriptionService(repository.NewGormSubscriptionRepo(infra.DB), logger)
	if err != nil {
		logger.Fatal("subscription service initialization failed", zap.Error(err))
	}

	publisher := queue.NewRabbitMQPublisher(infra.Rabbit)

	server := fiber.New(fiber.Config{
		AppName:      "push-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	server.Use(recover.New())
	server.Use(requestid.New())
	server.Use(metrics.HTTPMiddleware())

	server.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(server, map[string]handler.Pinger{
		"postgres": infra.SQL,
		"redis": handler.PingFunc(func(ctx context.Context) error {
			return infra.Redis.Ping(ctx).Err()
		}),
		"rabbitmq": handler.PingFunc(infra.Rabbit.Ping),
	})
	if err := handler.RegisterSubscriptionRoutes(server, subscriptionService); err != nil {
		logger.Fatal("subscription routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterPushRoutes(server, pushService, publisher); err != nil {
		logger.Fatal("push routes registration failed", zap.Error(err))
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down api")
		if err := server.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("api shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("push-engine api started", zap.Int("port", cfg.APIPort))
	if err := server.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
		logger.Error("api server stopped", zap.Error(err))
	}
}
