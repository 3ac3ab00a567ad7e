// Package app wires configuration into the long-lived components shared by
// the api and worker processes.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kursadbilgin/push-engine/internal/config"
	"github.com/kursadbilgin/push-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/push-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/push-engine/internal/infra/redis"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/provider"
	"github.com/kursadbilgin/push-engine/internal/queue"
	"github.com/kursadbilgin/push-engine/internal/ratelimit"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"github.com/kursadbilgin/push-engine/internal/service"
	"github.com/kursadbilgin/push-engine/internal/vapid"
	"github.com/kursadbilgin/push-engine/internal/webpush"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Infra struct {
	DB     *gorm.DB
	SQL    *sql.DB
	Redis  *redis.Client
	Rabbit *queue.RabbitMQ
}

// Connect opens postgres (running migrations), redis and rabbitmq. name
// identifies the process to redis and the broker. On failure everything opened
// so far is closed again.
func Connect(ctx context.Context, cfg *config.Config, name string, logger *zap.Logger) (*Infra, error) {
	infra := &Infra{}

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.DefaultPoolOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	infra.DB = db

	if err := migrations.Migrate(ctx, db, logger); err != nil {
		infra.Close()
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	infra.SQL = sqlDB

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL, name)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("redis initialization failed: %w", err)
	}
	infra.Redis = rdb

	rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, name, logger)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	infra.Rabbit = rmq

	return infra, nil
}

func (i *Infra) Close() error {
	var errs []error
	if i.Rabbit != nil {
		errs = append(errs, i.Rabbit.Close())
	}
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	if i.SQL != nil {
		errs = append(errs, i.SQL.Close())
	} else if i.DB != nil {
		if sqlDB, err := i.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}

// NewKeyManager builds the VAPID key manager on the postgres key store and
// adopts VAPID_PRIVATE_KEY when one is configured.
func NewKeyManager(ctx context.Context, db *gorm.DB, subject string, privateKey string, logger *zap.Logger) (*vapid.Manager, error) {
	manager, err := vapid.NewManager(repository.NewGormVapidKeyRepo(db), subject, logger)
	if err != nil {
		return nil, err
	}

	if privateKey != "" {
		if _, err := manager.Import(ctx, privateKey); err != nil {
			return nil, fmt.Errorf("vapid key import failed: %w", err)
		}
	}

	return manager, nil
}

// NewPushService assembles the resolve, sign, dispatch and aggregate pipeline.
func NewPushService(
	ctx context.Context,
	cfg *config.Config,
	infra *Infra,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*service.PushService, error) {
	subscriptions := repository.NewGormSubscriptionRepo(infra.DB)

	keys, err := NewKeyManager(ctx, infra.DB, cfg.VapidSubject, cfg.VapidPrivateKey, logger)
	if err != nil {
		return nil, err
	}

	limiter, err := newOriginLimiter(cfg, infra)
	if err != nil {
		return nil, err
	}

	resolver, err := service.NewTargetResolver(subscriptions)
	if err != nil {
		return nil, err
	}

	dispatcher, err := service.NewDispatcher(
		webpush.NewEncoder(cfg.PushTTLSeconds),
		provider.NewWebPushProvider(cfg.DispatchRequestTimeout),
		limiter,
		cfg.DispatchMaxInFlight,
		cfg.DispatchRequestTimeout,
		logger,
	)
	if err != nil {
		return nil, err
	}

	pushService, err := service.NewPushService(
		resolver,
		keys,
		dispatcher,
		service.NewAggregator(subscriptions, logger),
		cfg.DispatchBatchTimeout,
		logger,
	)
	if err != nil {
		return nil, err
	}
	pushService.SetMetrics(metrics)

	return pushService, nil
}

func newOriginLimiter(cfg *config.Config, infra *Infra) (ratelimit.OriginLimiter, error) {
	if cfg.OriginRateLimitPerSec <= 0 {
		return ratelimit.Unlimited{}, nil
	}
	if cfg.OriginRateLimitBackend == config.RateLimitBackendLocal {
		return ratelimit.NewLocal(cfg.OriginRateLimitPerSec)
	}
	return infraredis.NewOriginRateLimiter(infra.Redis, cfg.OriginRateLimitPerSec)
}
