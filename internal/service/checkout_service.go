package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/coursemart-api/internal/models"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
)

type checkoutSessionStore interface {
	Create(ctx context.Context, session *models.CheckoutSession) error
	Cancel(ctx context.Context, ref, userID string) error
}

type checkoutUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type entitlementChecker interface {
	Exists(ctx context.Context, userID, courseID string) (bool, error)
}

// CheckoutConfig carries the gateway details handed to clients.
type CheckoutConfig struct {
	PublicKey       string
	RedirectURL     string
	DefaultCurrency string
}

// CheckoutService starts purchases. The price always comes from the course row.
type CheckoutService struct {
	sessions     checkoutSessionStore
	courses      accessCourseReader
	users        checkoutUserReader
	entitlements entitlementChecker
	validator    *validator.Validate
	logger       *zap.Logger
	config       CheckoutConfig
}

// NewCheckoutService constructs a CheckoutService.
func NewCheckoutService(sessions checkoutSessionStore, courses accessCourseReader, users checkoutUserReader, entitlements entitlementChecker, validate *validator.Validate, logger *zap.Logger, cfg CheckoutConfig) *CheckoutService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	return &CheckoutService{
		sessions:     sessions,
		courses:      courses,
		users:        users,
		entitlements: entitlements,
		validator:    validate,
		logger:       logger,
		config:       cfg,
	}
}

// Start records what the principal is about to pay and returns the gateway payload.
func (s *CheckoutService) Start(ctx context.Context, principal models.Principal, req models.CheckoutRequest) (*models.CheckoutInit, error) {
	if !principal.Authenticated() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "sign in to buy a course")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid checkout payload")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrCourseNotFound, appErrors.ErrCourseNotFound.Message)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	owned, err := s.entitlements.Exists(ctx, principal.UserID, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrAccessUnavailable.Code, appErrors.ErrAccessUnavailable.Status, appErrors.ErrAccessUnavailable.Message)
	}
	if owned {
		return nil, appErrors.Clone(appErrors.ErrAlreadyEntitled, appErrors.ErrAlreadyEntitled.Message)
	}

	user, err := s.users.FindByID(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	currency := strings.ToUpper(course.Currency)
	if currency == "" {
		currency = strings.ToUpper(s.config.DefaultCurrency)
	}

	session := &models.CheckoutSession{
		Ref:      models.CheckoutRefPrefix + uuid.NewString(),
		UserID:   user.ID,
		CourseID: course.ID,
		Amount:   course.Price,
		Currency: currency,
		Status:   models.CheckoutPending,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start checkout")
	}

	s.logger.Info("checkout started",
		zap.String("tx_ref", session.Ref),
		zap.String("user_id", user.ID),
		zap.String("course_id", course.ID),
		zap.Float64("amount", session.Amount))

	return &models.CheckoutInit{
		TxRef:       session.Ref,
		Amount:      session.Amount,
		Currency:    session.Currency,
		Customer:    models.CheckoutCustomer{Email: user.Email, Name: user.DisplayName},
		Meta:        models.CheckoutMeta{UserID: user.ID, CourseID: course.ID},
		PublicKey:   s.config.PublicKey,
		RedirectURL: s.config.RedirectURL,
		Title:       course.Title,
	}, nil
}

// Cancel handles the gateway's close callback for one of the principal's pending sessions.
func (s *CheckoutService) Cancel(ctx context.Context, principal models.Principal, ref string) error {
	if !principal.Authenticated() {
		return appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if err := s.sessions.Cancel(ctx, ref, principal.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "no pending checkout for this reference")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel checkout")
	}
	return nil
}
