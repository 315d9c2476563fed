package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/coursemart-api/internal/models"
	"github.com/noah-isme/coursemart-api/internal/repository"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
)

type entitlementStore interface {
	ListByUser(ctx context.Context, userID string) ([]models.OwnedCourse, error)
	Revoke(ctx context.Context, userID, courseID string) (*models.Entitlement, error)
}

type entitlementGranter interface {
	Grant(ctx context.Context, txn models.Transaction) (*models.Entitlement, error)
}

// EntitlementService lists owned courses and lets admins grant or revoke access by hand.
type EntitlementService struct {
	entitlements entitlementStore
	granter      entitlementGranter
	users        checkoutUserReader
	courses      accessCourseReader
	audit        auditWriter
	validator    *validator.Validate
	logger       *zap.Logger
	currency     string
	now          func() time.Time
}

// NewEntitlementService constructs an EntitlementService.
func NewEntitlementService(entitlements entitlementStore, granter entitlementGranter, users checkoutUserReader, courses accessCourseReader, audit auditWriter, validate *validator.Validate, logger *zap.Logger, defaultCurrency string) *EntitlementService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &EntitlementService{
		entitlements: entitlements,
		granter:      granter,
		users:        users,
		courses:      courses,
		audit:        audit,
		validator:    validate,
		logger:       logger,
		currency:     strings.ToUpper(defaultCurrency),
		now:          time.Now,
	}
}

// MyCourses returns the principal's entitlements. Entitlements of deleted courses are kept.
func (s *EntitlementService) MyCourses(ctx context.Context, principal models.Principal) ([]models.OwnedCourse, error) {
	if !principal.Authenticated() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	return s.ListForUser(ctx, principal.UserID)
}

// ListForUser returns the entitlements held by userID.
func (s *EntitlementService) ListForUser(ctx context.Context, userID string) ([]models.OwnedCourse, error) {
	owned, err := s.entitlements.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list entitlements")
	}
	if owned == nil {
		owned = []models.OwnedCourse{}
	}
	return owned, nil
}

// Grant gives a user a course without a payment. A zero-amount manual transaction is
// recorded alongside so the ledger explains the entitlement.
func (s *EntitlementService) Grant(ctx context.Context, req models.GrantEntitlementRequest, actor models.Principal, meta ClientMeta) (*models.Entitlement, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grant payload")
	}
	if _, err := s.users.FindByID(ctx, req.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrCourseNotFound, appErrors.ErrCourseNotFound.Message)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	currency := course.Currency
	if currency == "" {
		currency = s.currency
	}
	ent, err := s.granter.Grant(ctx, models.Transaction{
		Ref:       models.ManualRefPrefix + uuid.NewString(),
		UserID:    req.UserID,
		CourseID:  course.ID,
		Amount:    0,
		Currency:  currency,
		Status:    models.TransactionManual,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyEntitled, appErrors.ErrAlreadyEntitled.Message)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grant course")
	}

	s.logger.Info("entitlement granted manually",
		zap.String("user_id", ent.UserID),
		zap.String("course_id", ent.CourseID),
		zap.String("actor", actor.UserID))
	s.record(ctx, actor, models.AuditActionEntitlementGrant, nil, ent, meta)
	return ent, nil
}

// Revoke removes an entitlement. The transaction that created it is kept.
func (s *EntitlementService) Revoke(ctx context.Context, userID, courseID string, actor models.Principal, meta ClientMeta) error {
	ent, err := s.entitlements.Revoke(ctx, userID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "entitlement not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke entitlement")
	}
	s.logger.Info("entitlement revoked",
		zap.String("user_id", userID),
		zap.String("course_id", courseID),
		zap.String("transaction_ref", ent.TransactionRef),
		zap.String("actor", actor.UserID))
	s.record(ctx, actor, models.AuditActionEntitlementRevoke, ent, nil, meta)
	return nil
}

func (s *EntitlementService) record(ctx context.Context, actor models.Principal, action string, before, after *models.Entitlement, meta ClientMeta) {
	if s.audit == nil {
		return
	}
	subject := after
	if subject == nil {
		subject = before
	}
	resourceID := subject.UserID + ":" + subject.CourseID
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "entitlements",
		ResourceID: &resourceID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if actor.UserID != "" {
		entry.UserID = &actor.UserID
	}
	if before != nil {
		entry.OldValues, _ = json.Marshal(before)
	}
	if after != nil {
		entry.NewValues, _ = json.Marshal(after)
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record entitlement audit log", zap.String("action", action), zap.Error(err))
	}
}
