package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coursemart-api/internal/models"
)

// maxExportRows caps a single transaction export.
const maxExportRows = 10000

const transactionViewColumns = `t.ref, t.course_id, t.user_id, t.amount, t.currency, t.status, t.created_at, c.title AS course_title`

// TransactionRepository reads payment transactions for reporting.
type TransactionRepository struct {
	db *sqlx.DB
}

// NewTransactionRepository creates a new instance of TransactionRepository.
func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) where(filter models.TransactionFilter) (string, []interface{}) {
	base := `FROM transactions t LEFT JOIN courses c ON c.id = t.course_id WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("t.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("t.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("t.status = $%d", len(args)+1))
		args = append(args, strings.ToLower(filter.Status))
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("t.created_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("t.created_at < $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}
	return base, args
}

// List returns a page of transactions with the total count.
func (r *TransactionRepository) List(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionView, int, error) {
	base, args := r.where(filter)
	limit, offset := pageWindow(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY t.created_at DESC, t.ref LIMIT %d OFFSET %d", transactionViewColumns, base, limit, offset)
	var rows []models.TransactionView
	if err := r.db.SelectContext(ctx, &rows, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}
	return rows, total, nil
}

// ListForExport returns every transaction matching the filter, up to the export cap.
func (r *TransactionRepository) ListForExport(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionView, error) {
	base, args := r.where(filter)
	query := fmt.Sprintf("SELECT %s %s ORDER BY t.created_at DESC, t.ref LIMIT %d", transactionViewColumns, base, maxExportRows)
	var rows []models.TransactionView
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("export transactions: %w", err)
	}
	return rows, nil
}
