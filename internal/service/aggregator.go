package service

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultStaleDeleteTimeout = 5 * time.Second

// Aggregator folds delivery outcomes into a BatchResult and purges stale targets.
type Aggregator struct {
	subscriptions repository.SubscriptionRepository
	deleteTimeout time.Duration
	logger        *zap.Logger
	metrics       *observability.Metrics
}

func NewAggregator(subscriptions repository.SubscriptionRepository, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		subscriptions: subscriptions,
		deleteTimeout: defaultStaleDeleteTimeout,
		logger:        logger,
	}
}

func (a *Aggregator) SetMetrics(metrics *observability.Metrics) {
	if a == nil {
		return
	}
	a.metrics = metrics
}

// Collect drains outcomes until the channel is closed. expected is the number
// of resolved targets; any outcome that never arrived is counted as failed.
func (a *Aggregator) Collect(ctx context.Context, expected int, outcomes <-chan domain.DeliveryOutcome) domain.BatchResult {
	var result domain.BatchResult
	for outcome := range outcomes {
		result.Add(outcome.Status)
		if outcome.Status == domain.OutcomeStale {
			a.deleteStale(ctx, outcome.Subscription)
		}
	}

	if missing := expected - result.Total; missing > 0 {
		a.logger.Error("batch finished with missing outcomes",
			zap.Int("expected", expected),
			zap.Int("received", result.Total),
		)
		result.FailedCount += missing
		result.Total = expected
	}
	return result
}

// deleteStale is best effort and outlives batch cancellation.
func (a *Aggregator) deleteStale(ctx context.Context, sub domain.Subscription) {
	if a.subscriptions == nil {
		return
	}

	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.deleteTimeout)
	defer cancel()

	var err error
	if sub.ID != "" {
		err = a.subscriptions.Delete(deleteCtx, sub.ID)
	} else {
		err = a.subscriptions.DeleteByEndpoint(deleteCtx, sub.Endpoint)
	}

	switch {
	case err == nil:
		a.metrics.IncStaleDeletion("deleted")
		a.logger.Info("stale subscription deleted",
			zap.String("subscriptionId", sub.ID),
			observability.PushService(sub.Endpoint),
		)
	case errors.Is(err, domain.ErrNotFound):
		a.metrics.IncStaleDeletion("already_gone")
	default:
		a.metrics.IncStaleDeletion("failed")
		a.logger.Warn("failed to delete stale subscription",
			zap.String("subscriptionId", sub.ID),
			observability.PushService(sub.Endpoint),
			zap.Error(err),
		)
	}
}
