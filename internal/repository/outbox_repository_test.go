package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coursemart-api/internal/models"
)

func TestPaymentEventInsertReportsDuplicates(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaymentEventRepository(db)

	mock.ExpectExec("INSERT INTO payment_events .* ON CONFLICT \\(ref\\) DO UPDATE .* WHERE \\(EXCLUDED.source = 'webhook'").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payment_events").WillReturnResult(sqlmock.NewResult(0, 0))

	event := &models.PaymentEvent{Ref: "cm_1", Source: models.PaymentSourceWebhook, Status: "successful", Payload: models.EventPayload(`{"event":"charge.completed"}`)}
	inserted, err := repo.Insert(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Insert(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentEventInsertReopensOnSuccess(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaymentEventRepository(db)

	mock.ExpectExec("INSERT INTO payment_events .* attempts = 0, last_error = NULL, processed_at = NULL .* OR \\(EXCLUDED.status = 'successful' AND payment_events.status <> 'successful'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	event := &models.PaymentEvent{Ref: "cm_1", Source: models.PaymentSourceWebhook, Status: "successful", Payload: models.EventPayload(`{"event":"charge.completed"}`)}
	inserted, err := repo.Insert(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentEventListPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaymentEventRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"ref", "source", "status", "amount", "currency", "payload", "attempts", "last_error", "processed_at", "created_at"}).
		AddRow("cm_1", "webhook", "successful", 10.0, "USD", []byte(`{}`), 2, "boom", nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + paymentEventColumns + " FROM payment_events WHERE processed_at IS NULL ORDER BY created_at ASC, ref LIMIT 50")).
		WillReturnRows(rows)

	events, err := repo.ListPending(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Processed())
	assert.Equal(t, "boom", *events[0].LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentEventRecordFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaymentEventRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payment_events SET attempts = attempts + 1, last_error = $2 WHERE ref = $1")).
		WithArgs("cm_1", "db down").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordFailure(context.Background(), "cm_1", "db down"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentEventReject(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaymentEventRepository(db)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payment_events SET attempts = attempts + 1, last_error = $2, processed_at = $3 WHERE ref = $1 AND processed_at IS NULL")).
		WithArgs("cm_1", "amount mismatch", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Reject(context.Background(), "cm_1", "amount mismatch", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutCancelRequiresPendingOwnedSession(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCheckoutRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE checkout_sessions SET status = $3, updated_at = $4 WHERE ref = $1 AND user_id = $2 AND status = $5")).
		WithArgs("cm_1", "u2", string(models.CheckoutCancelled), sqlmock.AnyArg(), string(models.CheckoutPending)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Cancel(context.Background(), "cm_1", "u2"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutFindByRef(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCheckoutRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"ref", "user_id", "course_id", "amount", "currency", "status", "created_at", "updated_at"}).
		AddRow("cm_1", "u1", "c1", 49.99, "USD", "pending", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM checkout_sessions WHERE ref = $1")).WithArgs("cm_1").WillReturnRows(rows)

	session, err := repo.FindByRef(context.Background(), "cm_1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutPending, session.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
