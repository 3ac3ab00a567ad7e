package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// Sender runs one push batch.
type Sender interface {
	SendTo(ctx context.Context, spec domain.RecipientSpec, payload domain.NotificationPayload, options ...SendOption) (domain.BatchResult, error)
}

// WorkerService runs push jobs handed off through the queue.
type WorkerService struct {
	sender      Sender
	consumer    queue.Consumer
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewWorkerService(sender Sender, consumer queue.Consumer, concurrency int, logger *zap.Logger) (*WorkerService, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		sender:      sender,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes push jobs until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started", zap.Int("workerId", workerID), zap.String("queue", queue.PushJobsQueue))

			if err := s.consumer.Consume(groupCtx, s.processMessage); err != nil {
				s.logger.Error("worker stopped with error", zap.Int("workerId", workerID), zap.Error(err))
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// processMessage returns an error only for jobs that should be dead-lettered.
// A job whose recipients no longer exist is acknowledged.
func (s *WorkerService) processMessage(ctx context.Context, msg queue.PushJobMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("jobId", msg.JobID))

	options, err := ParseSendOptions(msg.TTL, msg.Urgency, msg.Topic)
	if err != nil {
		s.metrics.IncJob("rejected")
		return err
	}

	result, err := s.sender.SendTo(ctx, msg.Recipient, msg.Payload, options...)
	switch {
	case err == nil:
		s.metrics.IncJob("completed")
		logger.Info("push job completed",
			zap.Int("total", result.Total),
			zap.Int("successCount", result.SuccessCount),
			zap.Int("failedCount", result.FailedCount),
		)
		return nil
	case errors.Is(err, domain.ErrNoTargetsFound):
		s.metrics.IncJob("no_targets")
		logger.Info("push job has no targets", zap.String("recipient", msg.Recipient.String()))
		return nil
	default:
		s.metrics.IncJob("rejected")
		return fmt.Errorf("push job %s failed: %w", msg.JobID, err)
	}
}
