package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume runs handler for every push job until ctx is done, resubscribing
// with backoff whenever the channel drops. The backoff starts over once a
// subscription has stayed up for healthySession.
func (c *RabbitMQConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	var backoff time.Duration
	for {
		started := time.Now()
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}

		session := time.Since(started)
		backoff = nextBackoff(backoff, session)
		c.logger.Warn("push job consumer disconnected, resubscribing",
			zap.Duration("session", session),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

// nextBackoff doubles previous up to maxBackoff, or starts over at
// reconnectBackoff after the first drop and after a healthy session.
func nextBackoff(previous, session time.Duration) time.Duration {
	if previous <= 0 || session >= healthySession {
		return reconnectBackoff
	}
	next := previous * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, PushJobsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", PushJobsQueue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// handleDelivery acks a handled job and rejects everything else without
// requeue. A redelivered job may already have reached some devices, so it is
// dead-lettered instead of being sent again.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	logger := c.logger.With(zap.String("messageId", d.MessageId))

	if d.Redelivered {
		logger.Warn("rejecting redelivered push job")
		return reject(d)
	}

	msg, err := decodeJob(d)
	if err != nil {
		logger.Warn("rejecting push job: invalid message", zap.Error(err))
		return reject(d)
	}

	if err := handler(ctx, msg); err != nil {
		logger.Warn("rejecting push job: handler failed", zap.String("jobId", msg.JobID), zap.Error(err))
		return reject(d)
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack push job %s: %w", msg.JobID, err)
	}
	return nil
}

func reject(d amqp.Delivery) error {
	if err := d.Reject(false); err != nil {
		return fmt.Errorf("failed to reject delivery %d: %w", d.DeliveryTag, err)
	}
	return nil
}

// decodeJob parses and validates a delivery body. The AMQP correlation id
// fills in for a body without one.
func decodeJob(d amqp.Delivery) (PushJobMessage, error) {
	var msg PushJobMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return PushJobMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if strings.TrimSpace(msg.CorrelationID) == "" {
		msg.CorrelationID = d.CorrelationId
	}
	if err := msg.Validate(); err != nil {
		return PushJobMessage{}, err
	}
	return msg, nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
