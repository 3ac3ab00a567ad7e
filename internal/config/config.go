package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Origin rate limiter backends. redis shares one budget across processes.
const (
	RateLimitBackendRedis = "redis"
	RateLimitBackendLocal = "local"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	VapidSubject    string `env:"VAPID_SUBJECT,default=mailto:admin@example.com"`
	VapidPrivateKey string `env:"VAPID_PRIVATE_KEY"`

	PushTTLSeconds         int           `env:"PUSH_TTL_SECONDS,default=86400"`
	DispatchMaxInFlight    int           `env:"DISPATCH_MAX_IN_FLIGHT,default=32"`
	DispatchRequestTimeout time.Duration `env:"DISPATCH_REQUEST_TIMEOUT,default=10s"`
	DispatchBatchTimeout   time.Duration `env:"DISPATCH_BATCH_TIMEOUT,default=60s"`
	OriginRateLimitPerSec  int           `env:"ORIGIN_RATE_LIMIT_PER_SEC,default=0"`
	OriginRateLimitBackend string        `env:"ORIGIN_RATE_LIMIT_BACKEND,default=redis"`
	WorkerConcurrency      int           `env:"WORKER_CONCURRENCY,default=4"`
	WorkerMetricsPort      int           `env:"WORKER_METRICS_PORT,default=9091"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" || strings.TrimSpace(c.RabbitMQURL) == "" || strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("DATABASE_DSN, RABBITMQ_URL and REDIS_URL must not be blank")
	}
	if !strings.HasPrefix(c.VapidSubject, "mailto:") && !strings.HasPrefix(c.VapidSubject, "https://") {
		return fmt.Errorf("VAPID_SUBJECT must be a mailto: or https: URI")
	}
	if c.PushTTLSeconds < 0 {
		return fmt.Errorf("PUSH_TTL_SECONDS must be >= 0")
	}
	if c.DispatchMaxInFlight < 1 {
		return fmt.Errorf("DISPATCH_MAX_IN_FLIGHT must be >= 1")
	}
	if c.DispatchRequestTimeout <= 0 || c.DispatchBatchTimeout <= 0 {
		return fmt.Errorf("dispatch timeouts must be positive")
	}
	if c.OriginRateLimitPerSec < 0 {
		return fmt.Errorf("ORIGIN_RATE_LIMIT_PER_SEC must be >= 0")
	}
	switch c.OriginRateLimitBackend {
	case RateLimitBackendRedis, RateLimitBackendLocal:
	default:
		return fmt.Errorf("ORIGIN_RATE_LIMIT_BACKEND must be %q or %q", RateLimitBackendRedis, RateLimitBackendLocal)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be >= 1")
	}
	return nil
}

// StoreConfig is the subset used by tooling that only touches the key store.
type StoreConfig struct {
	DatabaseDSN  string `env:"DATABASE_DSN,required=true"`
	VapidSubject string `env:"VAPID_SUBJECT,default=mailto:admin@example.com"`
	LogLevel     string `env:"LOG_LEVEL,default=warn"`
}

func LoadStore() (*StoreConfig, error) {
	var cfg StoreConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return nil, fmt.Errorf("failed to load config: DATABASE_DSN must not be blank")
	}
	return &cfg, nil
}
