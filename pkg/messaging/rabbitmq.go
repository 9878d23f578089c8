package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clinicaec/hospital-backend/pkg/config"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultDeadLetterExchange = "hospital.dlx"

// DeadLetterQueue names the queue that parks messages a work queue gave up on
func DeadLetterQueue(queue string) string {
	return queue + ".dead"
}

// RabbitMQ owns the broker connection and channel shared by the outbox relay
// publisher and the notification consumer.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *config.RabbitMQConfig
	dlx     string
	logger  *logger.Logger
	mu      sync.RWMutex
	closed  bool
}

// New dials the broker
func New(cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	dlx := cfg.DeadLetterExchange
	if dlx == "" {
		dlx = defaultDeadLetterExchange
	}
	rmq := &RabbitMQ{
		config: cfg,
		dlx:    dlx,
		logger: log.WithComponent("rabbitmq"),
	}

	if err := rmq.connect(); err != nil {
		return nil, err
	}
	return rmq, nil
}

func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(r.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(r.config.PrefetchCount, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	r.conn, r.channel = conn, ch
	r.logger.Info().Int("prefetch", r.config.PrefetchCount).Msg("connected to RabbitMQ")
	return nil
}

// Channel returns the current channel
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// IsClosed reports whether the channel or connection has gone away
func (r *RabbitMQ) IsClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn == nil || r.conn.IsClosed() || r.channel == nil || r.channel.IsClosed()
}

// Close closes the channel and connection. A closed RabbitMQ never reconnects.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close channel")
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}

	r.logger.Info().Msg("RabbitMQ connection closed")
	return nil
}

// Health reports the broker state for /health
func (r *RabbitMQ) Health() map[string]string {
	if r.IsClosed() {
		return map[string]string{"status": "down", "error": "connection closed"}
	}
	return map[string]string{"status": "up", "dead_letter_exchange": r.dlx}
}

// DeclareExchanges declares durable topic exchanges
func (r *RabbitMQ) DeclareExchanges(names ...string) error {
	ch := r.Channel()
	for _, name := range names {
		if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// DeclareWorkQueue declares a durable queue, its bindings and its dead-letter
// queue. Rejected messages are routed through the dead-letter exchange with
// the queue name as routing key, so each queue parks only its own failures.
func (r *RabbitMQ) DeclareWorkQueue(queue string, bindings []Binding) error {
	ch := r.Channel()

	if err := ch.ExchangeDeclare(r.dlx, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter exchange: %w", err)
	}
	dead := DeadLetterQueue(queue)
	if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s: %w", dead, err)
	}
	if err := ch.QueueBind(dead, queue, r.dlx, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s: %w", dead, err)
	}

	_, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    r.dlx,
		"x-dead-letter-routing-key": queue,
	})
	if err != nil {
		return fmt.Errorf("failed to declare %s: %w", queue, err)
	}

	for _, b := range bindings {
		if err := r.DeclareExchanges(b.Exchange); err != nil {
			return err
		}
		if err := ch.QueueBind(queue, b.Pattern, b.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", queue, b.Exchange, err)
		}
		r.logger.Info().
			Str("queue", queue).
			Str("exchange", b.Exchange).
			Str("routing_key", b.Pattern).
			Msg("queue bound")
	}
	return nil
}

// Reconnect re-dials the broker up to MaxRetries times, waiting
// ReconnectDelay between attempts. The publisher calls it when it finds the
// channel closed.
func (r *RabbitMQ) Reconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("connection is permanently closed")
	}

	for i := 0; i < r.config.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.config.ReconnectDelay):
			}
		}

		r.logger.Info().Int("attempt", i+1).Msg("attempting to reconnect to RabbitMQ")
		if err := r.connect(); err != nil {
			r.logger.Warn().Err(err).Msg("reconnection attempt failed")
			continue
		}
		return nil
	}

	return fmt.Errorf("failed to reconnect after %d attempts", r.config.MaxRetries)
}
