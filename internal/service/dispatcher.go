package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/provider"
	"github.com/kursadbilgin/push-engine/internal/ratelimit"
	"github.com/kursadbilgin/push-engine/internal/webpush"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxInFlight    = 32
	defaultRequestTimeout = 10 * time.Second
)

// Dispatcher encodes and sends one request per target with bounded concurrency.
type Dispatcher struct {
	encoder        *webpush.Encoder
	provider       provider.Provider
	limiter        ratelimit.OriginLimiter
	maxInFlight    int
	requestTimeout time.Duration
	logger         *zap.Logger
	metrics        *observability.Metrics
	now            func() time.Time
}

func NewDispatcher(
	encoder *webpush.Encoder,
	sender provider.Provider,
	limiter ratelimit.OriginLimiter,
	maxInFlight int,
	requestTimeout time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if maxInFlight < 1 {
		maxInFlight = defaultMaxInFlight
	}
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		encoder:        encoder,
		provider:       sender,
		limiter:        limiter,
		maxInFlight:    maxInFlight,
		requestTimeout: requestTimeout,
		logger:         logger,
		now:            time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Dispatch sends plaintext to every target and returns a channel that yields
// exactly one outcome per target and is closed once all of them are in.
// Cancelling ctx fails targets that have not finished.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	targets []domain.Subscription,
	plaintext []byte,
	tokens *webpush.TokenCache,
	opts webpush.Options,
) <-chan domain.DeliveryOutcome {
	outcomes := make(chan domain.DeliveryOutcome, len(targets))

	go func() {
		defer close(outcomes)

		var g errgroup.Group
		g.SetLimit(d.maxInFlight)
		for _, target := range targets {
			g.Go(func() error {
				outcomes <- d.deliver(ctx, target, plaintext, tokens, opts)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return outcomes
}

func (d *Dispatcher) deliver(
	ctx context.Context,
	target domain.Subscription,
	plaintext []byte,
	tokens *webpush.TokenCache,
	opts webpush.Options,
) domain.DeliveryOutcome {
	start := d.now()
	outcome := domain.DeliveryOutcome{Subscription: target, Status: domain.OutcomeFailed}
	var location string
	defer func() {
		outcome.Duration = d.now().Sub(start)
		d.metrics.ObserveDelivery(target.Endpoint, outcome.Status.String(), outcome.Duration)
		if outcome.Status == domain.OutcomeDelivered {
			d.logger.Debug("push delivered",
				zap.String("subscriptionId", target.ID),
				observability.PushService(target.Endpoint),
				zap.Int("statusCode", outcome.StatusCode),
				zap.String("location", location),
			)
			return
		}

		fields := []zap.Field{
			zap.String("subscriptionId", target.ID),
			observability.PushService(target.Endpoint),
			zap.String("outcome", outcome.Status.String()),
			zap.Int("statusCode", outcome.StatusCode),
			zap.Bool("transient", provider.IsTransient(outcome.Err)),
		}
		if retryAfter := provider.RetryAfter(outcome.Err); retryAfter > 0 {
			fields = append(fields, zap.Duration("retryAfter", retryAfter))
		}
		d.logger.Warn("push delivery not completed", append(fields, zap.Error(outcome.Err))...)
	}()

	if err := ctx.Err(); err != nil {
		outcome.Err = fmt.Errorf("batch canceled before send: %w", err)
		return outcome
	}

	req, err := d.encoder.Encode(target, plaintext, tokens, opts)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	if err := d.limiter.Wait(ctx, req.Origin); err != nil {
		outcome.Err = fmt.Errorf("origin rate limit wait: %w", err)
		return outcome
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	d.metrics.IncSendsInFlight()
	resp, err := d.provider.Send(reqCtx, req)
	d.metrics.DecSendsInFlight()

	outcome.Status = provider.Classify(err)
	outcome.Err = err
	if resp != nil {
		outcome.StatusCode = resp.StatusCode
		location = resp.Location
	}
	if code := provider.StatusCode(err); code != 0 {
		outcome.StatusCode = code
	}
	return outcome
}
