package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coursemart-api/internal/models"
)

const paymentEventColumns = `ref, source, status, amount, currency, payload, attempts, last_error, processed_at, created_at`

// PaymentEventRepository is the purchase outbox.
type PaymentEventRepository struct {
	db *sqlx.DB
}

// NewPaymentEventRepository creates a new instance of PaymentEventRepository.
func NewPaymentEventRepository(db *sqlx.DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

// Insert stores the event unless one already exists for its reference. An existing row
// is replaced and reopened when a signed webhook arrives for a row only a client callback
// wrote, or when a successful notification arrives for a row that is not yet successful.
// A callback never replaces a webhook row. It reports whether a row was written.
func (r *PaymentEventRepository) Insert(ctx context.Context, event *models.PaymentEvent) (bool, error) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO payment_events (ref, source, status, amount, currency, payload, attempts, created_at) VALUES (:ref, :source, :status, :amount, :currency, :payload, 0, :created_at)
		ON CONFLICT (ref) DO UPDATE SET source = EXCLUDED.source, status = EXCLUDED.status, amount = EXCLUDED.amount, currency = EXCLUDED.currency, payload = EXCLUDED.payload, attempts = 0, last_error = NULL, processed_at = NULL
		WHERE (EXCLUDED.source = 'webhook' AND payment_events.source <> 'webhook')
			OR (EXCLUDED.status = 'successful' AND payment_events.status <> 'successful' AND (EXCLUDED.source = 'webhook' OR payment_events.source <> 'webhook'))`
	res, err := r.db.NamedExecContext(ctx, query, event)
	if err != nil {
		return false, fmt.Errorf("insert payment event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert payment event rows: %w", err)
	}
	return n > 0, nil
}

// FindByRef returns the event for a gateway reference.
func (r *PaymentEventRepository) FindByRef(ctx context.Context, ref string) (*models.PaymentEvent, error) {
	query := `SELECT ` + paymentEventColumns + ` FROM payment_events WHERE ref = $1 LIMIT 1`
	var event models.PaymentEvent
	if err := r.db.GetContext(ctx, &event, query, ref); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find payment event: %w", err)
	}
	return &event, nil
}

// ListPending returns unprocessed events, oldest first.
func (r *PaymentEventRepository) ListPending(ctx context.Context, limit int) ([]models.PaymentEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM payment_events WHERE processed_at IS NULL ORDER BY created_at ASC, ref LIMIT %d`, paymentEventColumns, limit)
	var events []models.PaymentEvent
	if err := r.db.SelectContext(ctx, &events, query); err != nil {
		return nil, fmt.Errorf("list pending payment events: %w", err)
	}
	return events, nil
}

// RecordFailure increments the attempt counter and keeps the last error.
func (r *PaymentEventRepository) RecordFailure(ctx context.Context, ref, reason string) error {
	const query = `UPDATE payment_events SET attempts = attempts + 1, last_error = $2 WHERE ref = $1`
	if _, err := r.db.ExecContext(ctx, query, ref, reason); err != nil {
		return fmt.Errorf("record payment event failure: %w", err)
	}
	return nil
}

// Reject closes an event that can never be projected, keeping the reason.
func (r *PaymentEventRepository) Reject(ctx context.Context, ref, reason string, at time.Time) error {
	const query = `UPDATE payment_events SET attempts = attempts + 1, last_error = $2, processed_at = $3 WHERE ref = $1 AND processed_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, ref, reason, at); err != nil {
		return fmt.Errorf("reject payment event: %w", err)
	}
	return nil
}
