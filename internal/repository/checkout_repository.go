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

// CheckoutRepository stores checkout sessions.
type CheckoutRepository struct {
	db *sqlx.DB
}

// NewCheckoutRepository creates a new instance of CheckoutRepository.
func NewCheckoutRepository(db *sqlx.DB) *CheckoutRepository {
	return &CheckoutRepository{db: db}
}

// Create inserts a pending checkout session.
func (r *CheckoutRepository) Create(ctx context.Context, session *models.CheckoutSession) error {
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = models.CheckoutPending
	}
	const query = `INSERT INTO checkout_sessions (ref, user_id, course_id, amount, currency, status, created_at, updated_at) VALUES (:ref, :user_id, :course_id, :amount, :currency, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create checkout session: %w", err)
	}
	return nil
}

// FindByRef returns the session minted for ref.
func (r *CheckoutRepository) FindByRef(ctx context.Context, ref string) (*models.CheckoutSession, error) {
	const query = `SELECT ref, user_id, course_id, amount, currency, status, created_at, updated_at FROM checkout_sessions WHERE ref = $1 LIMIT 1`
	var session models.CheckoutSession
	if err := r.db.GetContext(ctx, &session, query, ref); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find checkout session: %w", err)
	}
	return &session, nil
}

// Cancel marks a pending session of userID cancelled. It returns sql.ErrNoRows when
// no such pending session exists.
func (r *CheckoutRepository) Cancel(ctx context.Context, ref, userID string) error {
	const query = `UPDATE checkout_sessions SET status = $3, updated_at = $4 WHERE ref = $1 AND user_id = $2 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, ref, userID, models.CheckoutCancelled, time.Now().UTC(), models.CheckoutPending)
	if err != nil {
		return fmt.Errorf("cancel checkout session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
