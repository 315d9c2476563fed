package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/coursemart-api/internal/models"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
	"github.com/noah-isme/coursemart-api/pkg/export"
)

type transactionReader interface {
	List(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionView, int, error)
	ListForExport(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionView, error)
}

type reportRenderer interface {
	ContentType() string
	Extension() string
	Render(data export.Dataset) ([]byte, error)
}

var transactionHeaders = []string{"ref", "user_id", "course_id", "course_title", "amount", "currency", "status", "created_at"}

// TransactionService serves the admin payment ledger.
type TransactionService struct {
	repo      transactionReader
	renderers map[string]reportRenderer
	logger    *zap.Logger
	now       func() time.Time
}

// NewTransactionService constructs a TransactionService with CSV and PDF renderers.
func NewTransactionService(repo transactionReader, logger *zap.Logger) *TransactionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionService{
		repo: repo,
		renderers: map[string]reportRenderer{
			models.ExportFormatCSV: export.NewCSVExporter(),
			models.ExportFormatPDF: export.NewPDFExporter(),
		},
		logger: logger,
		now:    time.Now,
	}
}

// List returns a page of transactions. Rows of deleted courses are kept without a title.
func (s *TransactionService) List(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionView, *models.Pagination, error) {
	if err := validateTransactionFilter(filter); err != nil {
		return nil, nil, err
	}
	pagination := paginate(filter.Page, filter.PageSize, 0)
	filter.Page, filter.PageSize = pagination.Page, pagination.PageSize

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list transactions")
	}
	pagination.TotalCount = total
	return items, pagination, nil
}

// Export renders every transaction matching the filter in the requested format.
func (s *TransactionService) Export(ctx context.Context, filter models.TransactionFilter, format string) (*models.ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = models.ExportFormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	if err := validateTransactionFilter(filter); err != nil {
		return nil, err
	}

	items, err := s.repo.ListForExport(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load transactions")
	}

	body, err := renderer.Render(transactionDataset(items))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	s.logger.Info("transactions exported", zap.String("format", format), zap.Int("rows", len(items)))

	return &models.ExportFile{
		FileName:    fmt.Sprintf("transactions_%s.%s", s.now().UTC().Format("20060102_150405"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func transactionDataset(items []models.TransactionView) export.Dataset {
	rows := make([]map[string]string, 0, len(items))
	for _, item := range items {
		title := ""
		if item.CourseTitle != nil {
			title = *item.CourseTitle
		}
		rows = append(rows, map[string]string{
			"ref":          item.Ref,
			"user_id":      item.UserID,
			"course_id":    item.CourseID,
			"course_title": title,
			"amount":       strconv.FormatFloat(item.Amount, 'f', 2, 64),
			"currency":     item.Currency,
			"status":       item.Status,
			"created_at":   item.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{Title: "Transactions", Headers: transactionHeaders, Rows: rows}
}

func validateTransactionFilter(filter models.TransactionFilter) error {
	switch filter.Status {
	case "", models.TransactionSuccessful, models.TransactionPending, models.TransactionFailed, models.TransactionCancelled, models.TransactionManual:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unknown transaction status")
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	return nil
}
