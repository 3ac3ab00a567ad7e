package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"github.com/kursadbilgin/push-engine/internal/observability"
	"golang.org/x/time/rate"
)

// OriginLimiter paces outbound requests per push service origin. Origins are
// keyed by host, so every device behind one push service shares a budget.
type OriginLimiter interface {
	Allow(ctx context.Context, origin string) (bool, error)
	Wait(ctx context.Context, origin string) error
}

// Unlimited never blocks. It is used when origin throttling is disabled.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, _ string) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

// Local is a per-process token bucket per origin host. Each api or worker
// process gets the full rate; use the redis limiter to share one budget.
type Local struct {
	perSecond int
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
}

var _ OriginLimiter = (*Local)(nil)

func NewLocal(perSecond int) (*Local, error) {
	if perSecond <= 0 {
		return nil, fmt.Errorf("origin rate limit must be positive, got %d", perSecond)
	}
	return &Local{perSecond: perSecond, buckets: make(map[string]*rate.Limiter)}, nil
}

func (l *Local) Allow(_ context.Context, origin string) (bool, error) {
	return l.bucket(origin).Allow(), nil
}

func (l *Local) Wait(ctx context.Context, origin string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return l.bucket(origin).Wait(ctx)
}

func (l *Local) bucket(origin string) *rate.Limiter {
	host := observability.OriginHost(origin)
	if host == "" {
		host = origin
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[host]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.perSecond), l.perSecond)
		l.buckets[host] = b
	}
	return b
}
