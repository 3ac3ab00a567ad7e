package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	jobMessageType = "push.job"
	appID          = "push-engine"
)

// RabbitMQPublisher enqueues push jobs and waits for the broker to confirm each
// one, so an accepted job is durable before the API answers.
type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, msg PushJobMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid push job message: %w", err)
	}

	publishing, err := newPublishing(msg, time.Now().UTC())
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", PushJobsQueue, false, false, publishing)
	if err != nil {
		return fmt.Errorf("failed to publish push job %s: %w", msg.JobID, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("push job %s not confirmed: %w", msg.JobID, err)
	}
	if !acked {
		return fmt.Errorf("push job %s was nacked by the broker", msg.JobID)
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// newPublishing builds the broker message. A job with a positive TTL expires
// in the queue after the same number of seconds. A zero TTL only limits the
// push service, so the job itself never expires.
func newPublishing(msg PushJobMessage, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal push job message: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     now,
		Type:          jobMessageType,
		AppId:         appID,
		MessageId:     msg.JobID,
		CorrelationId: msg.CorrelationID,
		Priority:      PriorityValue(msg.Urgency),
		Headers:       amqp.Table{"recipient": msg.Recipient.Kind.String()},
		Body:          body,
	}
	if msg.TTL != nil && *msg.TTL > 0 {
		publishing.Expiration = strconv.FormatInt(int64(*msg.TTL)*1000, 10)
	}
	return publishing, nil
}
