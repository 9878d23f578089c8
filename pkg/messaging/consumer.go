package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinicaec/hospital-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// AttemptsHeader counts how many times a consumer has failed a message
const AttemptsHeader = "x-hospital-attempts"

const defaultMaxDeliveries = 3

// Binding subscribes a queue to the events of one exchange. Pattern uses
// topic syntax: * matches one word, # zero or more.
type Binding struct {
	Exchange string
	Pattern  string
}

// Matches reports whether an event type routed with this binding's exchange
// would reach the queue.
func (b Binding) Matches(eventType string) bool {
	return matchTopic(strings.Split(b.Pattern, "."), strings.Split(eventType, "."))
}

func matchTopic(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchTopic(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchTopic(pattern[1:], key[1:])
	default:
		return len(key) > 0 && key[0] == pattern[0] && matchTopic(pattern[1:], key[1:])
	}
}

// The bindings services subscribe with
var (
	AppointmentEvents = Binding{Exchange: ExchangeSchedulingEvents, Pattern: "scheduling.appointment.#"}
	StockEvents       = Binding{Exchange: ExchangePharmacyEvents, Pattern: "pharmacy.stock.#"}
)

// ConsumerConfig describes a work queue and its delivery policy
type ConsumerConfig struct {
	Queue    string
	Bindings []Binding

	// MaxDeliveries is how many failed attempts a message gets before it
	// is parked in the queue's dead-letter queue.
	MaxDeliveries int
}

// Consumer reads events from one work queue and dispatches them by type.
// Failed messages are retried by republishing them to the back of the queue
// with AttemptsHeader incremented.
type Consumer struct {
	queueName     string
	bindings      []Binding
	maxDeliveries int
	handlers      map[string]MessageHandler
	channel       func() *amqp.Channel
	republish     func(ctx context.Context, msg amqp.Publishing) error
	logger        *logger.Logger
}

// NewConsumer declares the queue with its dead-letter queue and bindings
func NewConsumer(rmq *RabbitMQ, cfg ConsumerConfig, log *logger.Logger) (*Consumer, error) {
	if len(cfg.Bindings) == 0 {
		return nil, fmt.Errorf("queue %s has no bindings", cfg.Queue)
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = defaultMaxDeliveries
	}
	if err := rmq.DeclareWorkQueue(cfg.Queue, cfg.Bindings); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
	}

	c := &Consumer{
		queueName:     cfg.Queue,
		bindings:      cfg.Bindings,
		maxDeliveries: cfg.MaxDeliveries,
		handlers:      make(map[string]MessageHandler),
		channel:       rmq.Channel,
		logger:        log.WithComponent("consumer"),
	}
	c.republish = func(ctx context.Context, msg amqp.Publishing) error {
		return c.channel().PublishWithContext(ctx, "", c.queueName, false, false, msg)
	}
	return c, nil
}

// RegisterHandler registers a handler for an event type. It fails when none
// of the queue's bindings would deliver that type.
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) error {
	for _, b := range c.bindings {
		if b.Matches(eventType) {
			c.handlers[eventType] = handler
			return nil
		}
	}
	return fmt.Errorf("queue %s is not bound to %s events", c.queueName, eventType)
}

// Start starts consuming messages from the queue
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel().Consume(
		c.queueName, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Int("handlers", len(c.handlers)).
		Int("max_deliveries", c.maxDeliveries).
		Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Str("queue", c.queueName).Msg("message channel closed")
					return
				}
				c.handleMessage(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.MessageId).Msg("failed to unmarshal event")
		msg.Reject(false)
		return
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().Str("event_type", event.Type).Msg("no handler registered for event type")
		msg.Ack(false)
		return
	}

	err := handler(ctx, &event)
	if err == nil {
		msg.Ack(false)
		return
	}

	attempts := Attempts(msg) + 1
	if attempts >= c.maxDeliveries {
		c.logger.Error().
			Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Int("attempt", attempts).
			Msg("delivery attempts exhausted, dead-lettering event")
		msg.Reject(false)
		return
	}

	if perr := c.republish(ctx, retryOf(msg, attempts)); perr != nil {
		c.logger.Error().Err(perr).Str("event_id", event.ID).Msg("failed to requeue event")
		msg.Nack(false, true)
		return
	}
	c.logger.Warn().
		Err(err).
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Int("attempt", attempts).
		Msg("event failed, requeued")
	msg.Ack(false)
}

// Attempts returns how many times consumers have failed msg so far
func Attempts(msg amqp.Delivery) int {
	switch n := msg.Headers[AttemptsHeader].(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func retryOf(msg amqp.Delivery, attempts int) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[AttemptsHeader] = int32(attempts)

	return amqp.Publishing{
		Headers:       headers,
		ContentType:   msg.ContentType,
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.MessageId,
		CorrelationId: msg.CorrelationId,
		Timestamp:     msg.Timestamp,
		Body:          msg.Body,
	}
}
