package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coursemart-api/internal/models"
	"github.com/noah-isme/coursemart-api/pkg/database"
)

// PurchaseRecord is everything one payment notification writes.
type PurchaseRecord struct {
	Transaction models.Transaction
	// Grant is set when the payment should unlock the course.
	Grant bool
	// CheckoutRef, when set, is the checkout session to mark completed.
	CheckoutRef string
	// EventRef, when set, is the outbox row to close.
	EventRef string
	// Exclusive aborts the whole write with ErrDuplicate when the entitlement already exists.
	Exclusive bool
}

// PurchaseOutcome reports which rows the write created.
type PurchaseOutcome struct {
	// TransactionWritten is set when the transaction row was inserted or moved to a new status.
	TransactionWritten bool
	EntitlementCreated bool
	// Entitlement is the row at (user, course) after the write, whether new or pre-existing.
	Entitlement *models.Entitlement
}

// PurchaseRepository performs the purchase write as one database transaction.
type PurchaseRepository struct {
	db *sqlx.DB
}

// NewPurchaseRepository creates a new instance of PurchaseRepository.
func NewPurchaseRepository(db *sqlx.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// Record writes the transaction, the entitlement and the bookkeeping updates atomically.
// Replaying a reference changes nothing. A transaction that is not yet successful takes
// the payer, status and amount of a later notification. An existing entitlement keeps its original
// transaction reference. The checkout session is completed on a grant and cancelled
// only on a failed or cancelled payment.
func (r *PurchaseRepository) Record(ctx context.Context, rec PurchaseRecord) (*PurchaseOutcome, error) {
	txn := rec.Transaction
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	outcome := &PurchaseOutcome{}

	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const insertTxn = `INSERT INTO transactions (ref, course_id, user_id, amount, currency, status, created_at) VALUES (:ref, :course_id, :user_id, :amount, :currency, :status, :created_at)
			ON CONFLICT (ref) DO UPDATE SET user_id = EXCLUDED.user_id, course_id = EXCLUDED.course_id, status = EXCLUDED.status, amount = EXCLUDED.amount, currency = EXCLUDED.currency
			WHERE transactions.status NOT IN ('successful', 'manual') AND transactions.status <> EXCLUDED.status`
		res, err := tx.NamedExecContext(ctx, insertTxn, txn)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert transaction rows: %w", err)
		}
		outcome.TransactionWritten = n > 0

		if rec.Grant {
			const insertEnt = `INSERT INTO course_entitlements (user_id, course_id, purchased_at, transaction_ref) VALUES ($1, $2, $3, $4) ON CONFLICT (user_id, course_id) DO NOTHING`
			res, err := tx.ExecContext(ctx, insertEnt, txn.UserID, txn.CourseID, txn.CreatedAt, txn.Ref)
			if err != nil {
				return fmt.Errorf("insert entitlement: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("insert entitlement rows: %w", err)
			}
			outcome.EntitlementCreated = n > 0
			if !outcome.EntitlementCreated && rec.Exclusive {
				return ErrDuplicate
			}

			var ent models.Entitlement
			const selectEnt = `SELECT user_id, course_id, purchased_at, transaction_ref FROM course_entitlements WHERE user_id = $1 AND course_id = $2`
			if err := tx.GetContext(ctx, &ent, selectEnt, txn.UserID, txn.CourseID); err != nil {
				return fmt.Errorf("read entitlement: %w", err)
			}
			outcome.Entitlement = &ent

			if outcome.EntitlementCreated {
				if _, err := tx.ExecContext(ctx, `UPDATE courses SET students = students + 1 WHERE id = $1`, txn.CourseID); err != nil {
					return fmt.Errorf("increment course students: %w", err)
				}
			}
		}

		if status := sessionStatus(rec); rec.CheckoutRef != "" && status != "" {
			const updateSession = `UPDATE checkout_sessions SET status = $2, updated_at = $3 WHERE ref = $1 AND status = $4`
			if _, err := tx.ExecContext(ctx, updateSession, rec.CheckoutRef, status, txn.CreatedAt, models.CheckoutPending); err != nil {
				return fmt.Errorf("update checkout session: %w", err)
			}
		}

		if rec.EventRef != "" {
			const closeEvent = `UPDATE payment_events SET processed_at = $2, last_error = NULL WHERE ref = $1 AND processed_at IS NULL`
			if _, err := tx.ExecContext(ctx, closeEvent, rec.EventRef, time.Now().UTC()); err != nil {
				return fmt.Errorf("close payment event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// Grant creates an entitlement outside the payment flow together with its bookkeeping
// transaction. Nothing is written and ErrDuplicate is returned when the user already
// holds the course.
func (r *PurchaseRepository) Grant(ctx context.Context, txn models.Transaction) (*models.Entitlement, error) {
	outcome, err := r.Record(ctx, PurchaseRecord{Transaction: txn, Grant: true, Exclusive: true})
	if err != nil {
		return nil, err
	}
	return outcome.Entitlement, nil
}

// sessionStatus is the checkout status a write moves a pending session to, or "" to leave it.
func sessionStatus(rec PurchaseRecord) string {
	switch {
	case rec.Grant:
		return string(models.CheckoutCompleted)
	case rec.Transaction.Status == models.TransactionFailed, rec.Transaction.Status == models.TransactionCancelled:
		return string(models.CheckoutCancelled)
	default:
		return ""
	}
}
