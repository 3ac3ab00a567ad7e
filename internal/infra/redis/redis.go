package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pingTimeout = 5 * time.Second
	// limiter calls sit on the send path, so they fail fast rather than stall a batch.
	commandTimeout = 500 * time.Millisecond
)

// NewRedis connects the client backing the per-origin rate limiter. name is
// reported to the server via CLIENT SETNAME.
func NewRedis(ctx context.Context, url string, name string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = name
	}
	opts.ReadTimeout = commandTimeout
	opts.WriteTimeout = commandTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr, err)
	}

	return client, nil
}
