// Package events публикует доменные события мессенджера в RabbitMQ (topic exchange).
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/metrics"
)

// Routing keys.
const (
	MessageSent    = "message.sent"
	MessageEdited  = "message.edited"
	MessageDeleted = "message.deleted"
	MentionCreated = "mention.created"
)

// Envelope: общий конверт события.
type Envelope struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	TeamID     string    `json:"teamId,omitempty"`
	ActorID    string    `json:"actorId,omitempty"`
	Payload    any       `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher подключается к RabbitMQ; при пустом URL или ошибке подключения возвращает noop.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		logger.Infof("events: rabbitmq disabled, using noop: empty amqp url")
		return noopPublisher{reason: "empty amqp url"}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		logger.Warnf("events: rabbitmq disabled, using noop: %v", err)
		return noopPublisher{reason: err.Error()}
	}

	ch, err := conn.Channel()
	if err != nil {
		logger.Warnf("events: rabbitmq disabled, using noop: %v", err)
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		logger.Warnf("events: rabbitmq disabled, using noop: %v", err)
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	logger.Infof("events: rabbitmq connected exchange=%s", exchange)
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}
}

type amqpPublisher struct {
	mu       sync.Mutex // amqp.Channel не рассчитан на конкурентные Publish
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	p.mu.Unlock()
	if err != nil {
		metrics.EventPublishErrors.Inc()
		logger.Errorf("events: publish %s failed: %v", routingKey, err)
	}
	return err
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	if env, ok := event.(Envelope); ok {
		logger.Debugf("events: noop publish routing_key=%s team=%s actor=%s", routingKey, env.TeamID, env.ActorID)
		return nil
	}
	logger.Debugf("events: noop publish routing_key=%s", routingKey)
	return nil
}

func (noopPublisher) Close() error { return nil }

// Mode: "amqp" или "noop" (для лога при старте).
func Mode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// NoopReason: почему выбран noop (пусто для amqp).
func NoopReason(p Publisher) string {
	if n, ok := p.(noopPublisher); ok {
		return n.reason
	}
	return ""
}
