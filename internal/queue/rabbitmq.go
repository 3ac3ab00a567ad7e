package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	healthySession   = time.Minute
	connectTimeout   = 15 * time.Second
	dialTimeout      = 5 * time.Second
	heartbeat        = 10 * time.Second
)

// RabbitMQ owns one broker connection shared by the publisher and consumers.
// The job topology is declared once per connection, right after it is dialed.
type RabbitMQ struct {
	url    string
	name   string
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewRabbitMQ connects to url. name is reported to the broker as the client
// connection name so the api and worker are told apart in the management UI.
func NewRabbitMQ(url string, name string, logger *zap.Logger) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &RabbitMQ{url: url, name: name, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// Ping opens and closes a channel on the live connection.
func (r *RabbitMQ) Ping(ctx context.Context) error {
	ch, err := r.channel(ctx)
	if err != nil {
		return err
	}
	return ch.Close()
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err == nil {
		return ch, nil
	}

	// The connection can die between the liveness check and Channel().
	r.forget(conn)
	if conn, err = r.connection(ctx); err != nil {
		return nil, err
	}
	if ch, err = conn.Channel(); err != nil {
		return nil, fmt.Errorf("failed to open rabbitmq channel after reconnect: %w", err)
	}
	return ch, nil
}

// connection returns the live connection, dialing with exponential backoff
// until ctx is done when there is none.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	wait := reconnectBackoff
	for attempt := 1; ; attempt++ {
		conn, err := r.dial()
		if err == nil {
			r.conn = conn
			if attempt > 1 {
				r.logger.Info("rabbitmq connected", zap.Int("attempts", attempt))
			}
			return conn, nil
		}

		r.logger.Warn("rabbitmq connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq connect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

func (r *RabbitMQ) dial() (*amqp.Connection, error) {
	properties := amqp.NewConnectionProperties()
	if r.name != "" {
		properties.SetClientConnectionName(r.name)
	}

	conn, err := amqp.DialConfig(r.url, amqp.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Dial:       amqp.DefaultDial(dialTimeout),
		Properties: properties,
	})
	if err != nil {
		return nil, err
	}

	if err := declareTopology(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (r *RabbitMQ) forget(conn *amqp.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == conn {
		r.conn = nil
	}
	if !conn.IsClosed() {
		_ = conn.Close()
	}
}

// declareTopology declares the push job queue and its dead-letter route.
// Rejected jobs and jobs whose expiration passes both land in PushJobsDLQ.
func declareTopology(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open topology channel: %w", err)
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", dlxExchangeName, err)
	}

	if _, err := ch.QueueDeclare(PushJobsDLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", PushJobsDLQ, err)
	}
	if err := ch.QueueBind(PushJobsDLQ, PushJobsQueue, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", PushJobsDLQ, err)
	}

	if _, err := ch.QueueDeclare(PushJobsQueue, true, false, false, false, pushJobsQueueArgs()); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", PushJobsQueue, err)
	}
	return nil
}

func pushJobsQueueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": PushJobsQueue,
		"x-max-priority":            queueMaxPriority,
	}
}
