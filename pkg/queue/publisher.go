package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// JobEventKind names the lifecycle notifications workers subscribe to.
const (
	JobCreated   = "created"
	JobRequeued  = "requeued"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobEvent is the wire shape published for image-job lifecycle changes.
// Workers wake on created/requeued; completed/failed exist for observers.
type JobEvent struct {
	Kind       string    `json:"kind"`
	JobID      string    `json:"jobId"`
	OwnerID    string    `json:"ownerId"`
	Prompt     string    `json:"prompt,omitempty"`
	Resolution int       `json:"resolution,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher emits job lifecycle events. Publishing is best-effort
// notification; job state itself lives in the store.
type Publisher interface {
	PublishJobEvent(ctx context.Context, event JobEvent) error
	Close() error
}

// AMQPPublisher publishes job events to a durable topic exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// AMQPConfig configures the broker connection.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		exchange = "chatcore.jobs"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// PublishJobEvent sends one event with routing key "image.<kind>".
func (p *AMQPPublisher) PublishJobEvent(ctx context.Context, event JobEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode job event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, p.exchange, "image."+event.Kind, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
}

// Close tears down the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		_ = p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// NopPublisher drops events. Used when no broker is configured; workers then
// poll for pending jobs instead of being notified.
type NopPublisher struct{}

func (NopPublisher) PublishJobEvent(context.Context, JobEvent) error { return nil }
func (NopPublisher) Close() error                                    { return nil }
