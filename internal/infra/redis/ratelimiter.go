package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	window    = time.Second
	keyPrefix = "push:origin:"
)

// reserveScript keeps a sliding log of send times per origin in a sorted set.
// It returns 0 when a slot was taken, otherwise the milliseconds until the
// oldest entry leaves the window.
//
// KEYS[1] log key; ARGV: now ms, window ms, limit, member, cutoff ms.
var reserveScript = goredis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[5])
if redis.call("ZCARD", KEYS[1]) < tonumber(ARGV[3]) then
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 0
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local wait = tonumber(oldest[2]) + tonumber(ARGV[2]) - tonumber(ARGV[1])
if wait < 1 then
  wait = 1
end
return wait
`)

var _ ratelimit.OriginLimiter = (*OriginRateLimiter)(nil)

// OriginRateLimiter caps requests per second to each push service host across
// every api and worker process sharing the same Redis.
type OriginRateLimiter struct {
	client *goredis.Client
	limit  int
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewOriginRateLimiter(client *goredis.Client, limitPerSec int) (*OriginRateLimiter, error) {
	return newOriginRateLimiter(client, limitPerSec, time.Now, sleepWithContext)
}

func newOriginRateLimiter(
	client *goredis.Client,
	limitPerSec int,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*OriginRateLimiter, error) {
	switch {
	case client == nil:
		return nil, fmt.Errorf("redis client is required")
	case limitPerSec <= 0:
		return nil, fmt.Errorf("origin rate limit must be positive, got %d", limitPerSec)
	case nowFn == nil || sleepFn == nil:
		return nil, fmt.Errorf("clock functions are required")
	}

	return &OriginRateLimiter{client: client, limit: limitPerSec, now: nowFn, sleep: sleepFn}, nil
}

func (r *OriginRateLimiter) Allow(ctx context.Context, origin string) (bool, error) {
	wait, err := r.reserve(ctx, origin)
	return wait == 0 && err == nil, err
}

// Wait blocks until origin has a free slot or ctx ends. The sleep is the exact
// time until the oldest logged send expires, so Redis is polled at most once
// per freed slot.
func (r *OriginRateLimiter) Wait(ctx context.Context, origin string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		wait, err := r.reserve(ctx, origin)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *OriginRateLimiter) reserve(ctx context.Context, origin string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key, err := logKey(origin)
	if err != nil {
		return 0, err
	}

	nowMs := r.now().UnixMilli()
	args := []any{
		nowMs,
		window.Milliseconds(),
		r.limit,
		strconv.FormatInt(nowMs, 10) + ":" + uuid.NewString(),
		nowMs - window.Milliseconds(),
	}

	waitMs, err := reserveScript.Run(ctx, r.client, []string{key}, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve origin slot: %w", err)
	}
	return time.Duration(waitMs) * time.Millisecond, nil
}

// logKey is the sorted set for one push service host.
func logKey(origin string) (string, error) {
	host := observability.OriginHost(origin)
	if host == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}
	return keyPrefix + host, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
