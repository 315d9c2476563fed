package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coursemart-api/internal/models"
)

// EntitlementRepository reads and manually maintains course entitlements.
// Purchases write entitlements through PurchaseRepository.
type EntitlementRepository struct {
	db *sqlx.DB
}

// NewEntitlementRepository creates a new instance of EntitlementRepository.
func NewEntitlementRepository(db *sqlx.DB) *EntitlementRepository {
	return &EntitlementRepository{db: db}
}

// Find returns the entitlement at (userID, courseID).
func (r *EntitlementRepository) Find(ctx context.Context, userID, courseID string) (*models.Entitlement, error) {
	const query = `SELECT user_id, course_id, purchased_at, transaction_ref FROM course_entitlements WHERE user_id = $1 AND course_id = $2 LIMIT 1`
	var ent models.Entitlement
	if err := r.db.GetContext(ctx, &ent, query, userID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find entitlement: %w", err)
	}
	return &ent, nil
}

// Exists reports whether the user holds an entitlement for the course.
func (r *EntitlementRepository) Exists(ctx context.Context, userID, courseID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM course_entitlements WHERE user_id = $1 AND course_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, userID, courseID); err != nil {
		return false, fmt.Errorf("check entitlement: %w", err)
	}
	return exists, nil
}

// ListByUser returns the user's entitlements, newest first, with course details where the course still exists.
func (r *EntitlementRepository) ListByUser(ctx context.Context, userID string) ([]models.OwnedCourse, error) {
	const query = `SELECT e.user_id, e.course_id, e.purchased_at, e.transaction_ref, c.title AS course_title, c.category AS course_category
FROM course_entitlements e
LEFT JOIN courses c ON c.id = e.course_id
WHERE e.user_id = $1
ORDER BY e.purchased_at DESC`
	var owned []models.OwnedCourse
	if err := r.db.SelectContext(ctx, &owned, query, userID); err != nil {
		return nil, fmt.Errorf("list entitlements by user: %w", err)
	}
	return owned, nil
}

// Revoke deletes the entitlement at (userID, courseID) and returns the removed row.
func (r *EntitlementRepository) Revoke(ctx context.Context, userID, courseID string) (*models.Entitlement, error) {
	const query = `DELETE FROM course_entitlements WHERE user_id = $1 AND course_id = $2 RETURNING user_id, course_id, purchased_at, transaction_ref`
	var ent models.Entitlement
	if err := r.db.GetContext(ctx, &ent, query, userID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("revoke entitlement: %w", err)
	}
	return &ent, nil
}
