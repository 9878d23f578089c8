package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clinicaec/hospital-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher handles publishing events to RabbitMQ topic exchanges
type Publisher struct {
	rmq    *RabbitMQ
	source string
	logger *logger.Logger
}

// NewPublisher creates a new publisher and declares the exchanges it writes to
func NewPublisher(rmq *RabbitMQ, source string, log *logger.Logger, exchanges ...string) (*Publisher, error) {
	if err := rmq.DeclareExchanges(exchanges...); err != nil {
		return nil, err
	}

	return &Publisher{
		rmq:    rmq,
		source: source,
		logger: log,
	}, nil
}

// Publish wraps data in a new Event and publishes it with eventType as the
// routing key.
func (p *Publisher) Publish(ctx context.Context, exchange, eventType string, data interface{}) error {
	event, err := NewEvent(eventType, p.source, getCorrelationID(ctx), data)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return p.PublishEvent(ctx, exchange, event)
}

// PublishEvent publishes a prepared event. The outbox relay uses it so the
// event id stays the outbox row id across retries.
func (p *Publisher) PublishEvent(ctx context.Context, exchange string, event *Event) error {
	if event.Source == "" {
		event.Source = p.source
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if p.rmq.IsClosed() {
		if err := p.rmq.Reconnect(ctx); err != nil {
			return fmt.Errorf("broker unavailable: %w", err)
		}
	}

	err = p.rmq.Channel().PublishWithContext(ctx,
		exchange,   // exchange
		event.Type, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     event.ID,
			CorrelationId: event.CorrelationID,
			Timestamp:     event.Timestamp,
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug().
		Str("exchange", exchange).
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Msg("event published")

	return nil
}

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationID retrieves the correlation ID from context
func CorrelationID(ctx context.Context) string {
	return getCorrelationID(ctx)
}

func getCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
