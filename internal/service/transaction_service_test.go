package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coursemart-api/internal/models"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
)

type mockTransactionRepo struct {
	items      []models.TransactionView
	lastFilter models.TransactionFilter
	err        error
}

func (m *mockTransactionRepo) List(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionView, int, error) {
	m.lastFilter = filter
	if m.err != nil {
		return nil, 0, m.err
	}
	return m.items, len(m.items), nil
}

func (m *mockTransactionRepo) ListForExport(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionView, error) {
	m.lastFilter = filter
	return m.items, m.err
}

func ledgerFixture() *mockTransactionRepo {
	title := "Go"
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &mockTransactionRepo{items: []models.TransactionView{
		{Transaction: models.Transaction{Ref: "cm_1", UserID: "u1", CourseID: "c1", Amount: 59.99, Currency: "USD", Status: models.TransactionSuccessful, CreatedAt: created}, CourseTitle: &title},
		{Transaction: models.Transaction{Ref: "cm_2", UserID: "u2", CourseID: "gone", Amount: 10, Currency: "USD", Status: models.TransactionFailed, CreatedAt: created}},
	}}
}

func TestTransactionServiceList(t *testing.T) {
	repo := ledgerFixture()
	svc := NewTransactionService(repo, nil)

	items, page, err := svc.List(context.Background(), models.TransactionFilter{UserID: "u1", PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 100, page.PageSize)
	assert.Equal(t, 100, repo.lastFilter.PageSize)
	assert.Equal(t, "u1", repo.lastFilter.UserID)

	_, _, err = svc.List(context.Background(), models.TransactionFilter{Status: "refunded"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	repo.err = errors.New("db down")
	_, _, err = svc.List(context.Background(), models.TransactionFilter{})
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestTransactionServiceExportCSV(t *testing.T) {
	svc := NewTransactionService(ledgerFixture(), nil)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }

	file, err := svc.Export(context.Background(), models.TransactionFilter{}, "CSV")
	require.NoError(t, err)
	assert.Equal(t, "transactions_20240601_080000.csv", file.FileName)
	assert.Equal(t, "text/csv", file.ContentType)

	lines := strings.Split(strings.TrimSpace(string(file.Body)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ref,user_id,course_id,course_title,amount,currency,status,created_at", lines[0])
	assert.Contains(t, lines[1], "cm_1,u1,c1,Go,59.99,USD,successful")
	assert.Contains(t, lines[2], "cm_2,u2,gone,,10.00,USD,failed")
}

func TestTransactionServiceExportPDF(t *testing.T) {
	svc := NewTransactionService(ledgerFixture(), nil)

	file, err := svc.Export(context.Background(), models.TransactionFilter{}, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, bytes.HasPrefix(file.Body, []byte("%PDF")))

	_, err = svc.Export(context.Background(), models.TransactionFilter{}, "xlsx")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
