package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicaec/hospital-backend/pkg/config"
	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/clinicaec/hospital-backend/pkg/messaging"
	"github.com/jmoiron/sqlx"
)

// Publisher delivers a prepared event to an exchange.
// *messaging.Publisher satisfies it.
type Publisher interface {
	PublishEvent(ctx context.Context, exchange string, event *messaging.Event) error
}

const (
	selectPendingQuery = `
	SELECT id, aggregate, aggregate_id, event_type, exchange, payload,
	       created_at, processed_at, retry_count, last_error
	FROM outbox_events
	WHERE processed_at IS NULL AND retry_count < $1
	ORDER BY created_at ASC
	LIMIT $2
	FOR UPDATE SKIP LOCKED`

	markProcessedQuery = `UPDATE outbox_events SET processed_at = NOW(), last_error = NULL WHERE id = $1`

	markFailedQuery = `UPDATE outbox_events SET retry_count = retry_count + 1, last_error = $1 WHERE id = $2`

	pendingCountQuery = `SELECT COUNT(*) FROM outbox_events WHERE processed_at IS NULL AND retry_count < $1`
)

// Result counts what a relay pass did
type Result struct {
	Published int `json:"published"`
	Failed    int `json:"failed"`
}

// Relay polls the outbox and publishes pending events
type Relay struct {
	db        *database.DB
	publisher Publisher
	cfg       config.OutboxConfig
	source    string
	logger    *logger.Logger
	cancel    context.CancelFunc
}

// NewRelay creates a relay. source is stamped on published events.
func NewRelay(db *database.DB, publisher Publisher, cfg config.OutboxConfig, source string, log *logger.Logger) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Relay{
		db:        db,
		publisher: publisher,
		cfg:       cfg,
		source:    source,
		logger:    log,
	}
}

// RunOnce publishes one batch of pending events. Rows are locked with SKIP
// LOCKED so several relays can run against the same table.
func (r *Relay) RunOnce(ctx context.Context) (Result, error) {
	var result Result

	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var records []Record
		if err := tx.SelectContext(ctx, &records, selectPendingQuery, r.cfg.MaxRetries, r.cfg.BatchSize); err != nil {
			return fmt.Errorf("failed to select pending events: %w", err)
		}

		for _, rec := range records {
			event := &messaging.Event{
				ID:        rec.ID,
				Type:      rec.EventType,
				Source:    r.source,
				Timestamp: rec.CreatedAt.UTC(),
				Data:      rec.Payload,
			}

			if err := r.publisher.PublishEvent(ctx, rec.Exchange, event); err != nil {
				r.logger.Error().
					Err(err).
					Str("event_id", rec.ID).
					Str("event_type", rec.EventType).
					Int("retry_count", rec.RetryCount+1).
					Msg("failed to publish outbox event")

				if _, err := tx.ExecContext(ctx, markFailedQuery, err.Error(), rec.ID); err != nil {
					return fmt.Errorf("failed to mark event %s failed: %w", rec.ID, err)
				}
				result.Failed++
				continue
			}

			if _, err := tx.ExecContext(ctx, markProcessedQuery, rec.ID); err != nil {
				return fmt.Errorf("failed to mark event %s processed: %w", rec.ID, err)
			}
			result.Published++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if result.Published+result.Failed > 0 {
		r.logger.Info().
			Int("published", result.Published).
			Int("failed", result.Failed).
			Msg("outbox batch relayed")
	}
	return result, nil
}

// Drain runs batches until nothing is left to publish or every remaining
// event has exhausted its retries.
func (r *Relay) Drain(ctx context.Context) (Result, error) {
	var total Result
	for {
		res, err := r.RunOnce(ctx)
		if err != nil {
			return total, err
		}
		total.Published += res.Published
		total.Failed += res.Failed
		if res.Published+res.Failed == 0 {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// PendingCount returns the number of events still eligible for delivery
func (r *Relay) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, pendingCountQuery, r.cfg.MaxRetries)
	return count, err
}

// Start polls the outbox in a background goroutine
func (r *Relay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	go func() {
		r.logger.Info().Dur("interval", r.cfg.PollInterval).Msg("outbox relay started")

		ticker := time.NewTicker(r.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Info().Msg("outbox relay stopped")
				return
			case <-ticker.C:
				if _, err := r.RunOnce(ctx); err != nil {
					r.logger.Error().Err(err).Msg("outbox relay pass failed")
				}
			}
		}
	}()
}

// Stop stops the relay goroutine
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}
