// Package outbox stores integration events in the same transaction as the
// change that produced them and relays them to RabbitMQ afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/google/uuid"
)

// Message is an event waiting to be written to the outbox
type Message struct {
	Aggregate   string
	AggregateID string
	EventType   string
	Exchange    string
	Payload     interface{}
}

// Record is a stored outbox row
type Record struct {
	ID          string     `db:"id"`
	Aggregate   string     `db:"aggregate"`
	AggregateID string     `db:"aggregate_id"`
	EventType   string     `db:"event_type"`
	Exchange    string     `db:"exchange"`
	Payload     []byte     `db:"payload"`
	CreatedAt   time.Time  `db:"created_at"`
	ProcessedAt *time.Time `db:"processed_at"`
	RetryCount  int        `db:"retry_count"`
	LastError   *string    `db:"last_error"`
}

const insertQuery = `
	INSERT INTO outbox_events (id, aggregate, aggregate_id, event_type, exchange, payload)
	VALUES ($1, $2, $3, $4, $5, $6)`

// Enqueue writes msg through q, which is normally the transaction that holds
// the domain change. It returns the event id.
func Enqueue(ctx context.Context, q database.Queryer, msg Message) (string, error) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	id := uuid.New().String()
	if _, err := q.ExecContext(ctx, insertQuery,
		id, msg.Aggregate, msg.AggregateID, msg.EventType, msg.Exchange, payload,
	); err != nil {
		return "", fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return id, nil
}
