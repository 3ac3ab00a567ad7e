package queue

import (
	"context"
	"strings"
)

// Publisher publishes push jobs.
type Publisher interface {
	Publish(ctx context.Context, msg PushJobMessage) error
	Close() error
}

// MessageHandler handles a consumed push job.
type MessageHandler func(ctx context.Context, msg PushJobMessage) error

// Consumer consumes push jobs.
type Consumer interface {
	Consume(ctx context.Context, handler MessageHandler) error
	Close() error
}

const (
	// PushJobsQueue is the work queue for asynchronous sends.
	PushJobsQueue = "push.jobs"
	// PushJobsDLQ receives rejected jobs. Nothing consumes it automatically.
	PushJobsDLQ = "dlq." + PushJobsQueue

	dlxExchangeName = "push.dlx"

	// queueMaxPriority is the RabbitMQ x-max-priority value for the work queue.
	queueMaxPriority int32 = 3
)

// PriorityValue maps a Web Push urgency to RabbitMQ message priority so urgent
// jobs overtake bulk ones already waiting in the queue.
func PriorityValue(urgency string) uint8 {
	switch strings.ToLower(strings.TrimSpace(urgency)) {
	case "high":
		return 3
	case "normal", "":
		return 2
	case "low", "very-low":
		return 1
	default:
		return 0
	}
}
