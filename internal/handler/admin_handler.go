package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coursemart-api/internal/models"
	"github.com/noah-isme/coursemart-api/internal/service"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
	"github.com/noah-isme/coursemart-api/pkg/response"
)

type ledgerService interface {
	List(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionView, *models.Pagination, error)
	Export(ctx context.Context, filter models.TransactionFilter, format string) (*models.ExportFile, error)
}

type entitlementAdmin interface {
	ListForUser(ctx context.Context, userID string) ([]models.OwnedCourse, error)
	Grant(ctx context.Context, req models.GrantEntitlementRequest, actor models.Principal, meta service.ClientMeta) (*models.Entitlement, error)
	Revoke(ctx context.Context, userID, courseID string, actor models.Principal, meta service.ClientMeta) error
}

// AdminHandler exposes the payment ledger and manual entitlement management.
type AdminHandler struct {
	ledger       ledgerService
	entitlements entitlementAdmin
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(ledger ledgerService, entitlements entitlementAdmin) *AdminHandler {
	return &AdminHandler{ledger: ledger, entitlements: entitlements}
}

// Transactions godoc
// @Summary List transactions
// @Tags Admin
// @Produce json
// @Param user_id query string false "User ID"
// @Param course_id query string false "Course ID"
// @Param status query string false "successful|pending|failed|cancelled|manual"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/transactions [get]
func (h *AdminHandler) Transactions(c *gin.Context) {
	filter, err := transactionFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, pagination, err := h.ledger.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// ExportTransactions godoc
// @Summary Export transactions
// @Tags Admin
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv|pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/transactions/export [get]
func (h *AdminHandler) ExportTransactions(c *gin.Context) {
	filter, err := transactionFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.ledger.Export(c.Request.Context(), filter, c.DefaultQuery("format", models.ExportFormatCSV))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, file.FileName, file.ContentType, file.Body)
}

// UserEntitlements godoc
// @Summary Courses held by a user
// @Tags Admin
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/users/{id}/entitlements [get]
func (h *AdminHandler) UserEntitlements(c *gin.Context) {
	owned, err := h.entitlements.ListForUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, owned, nil)
}

// GrantEntitlement godoc
// @Summary Grant a course without payment
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body models.GrantEntitlementRequest true "Grant"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/entitlements [post]
func (h *AdminHandler) GrantEntitlement(c *gin.Context) {
	var req models.GrantEntitlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid grant payload"))
		return
	}
	ent, err := h.entitlements.Grant(c.Request.Context(), req, principalFrom(c), clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, ent)
}

// RevokeEntitlement godoc
// @Summary Revoke a course from a user
// @Tags Admin
// @Param id path string true "User ID"
// @Param courseId path string true "Course ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/users/{id}/entitlements/{courseId} [delete]
func (h *AdminHandler) RevokeEntitlement(c *gin.Context) {
	if err := h.entitlements.Revoke(c.Request.Context(), c.Param("id"), c.Param("courseId"), principalFrom(c), clientMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func transactionFilter(c *gin.Context) (models.TransactionFilter, error) {
	filter := models.TransactionFilter{
		UserID:   c.Query("user_id"),
		CourseID: c.Query("course_id"),
		Status:   c.Query("status"),
		Page:     queryInt(c, "page"),
		PageSize: queryInt(c, "page_size"),
	}
	for key, target := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, key+" must be an RFC3339 timestamp")
		}
		*target = &ts
	}
	return filter, nil
}
