package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/coursemart-api/internal/models"
	"github.com/noah-isme/coursemart-api/internal/repository"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
	"github.com/noah-isme/coursemart-api/pkg/payment"
)

type purchaseWriter interface {
	Record(ctx context.Context, rec repository.PurchaseRecord) (*repository.PurchaseOutcome, error)
}

type checkoutReader interface {
	FindByRef(ctx context.Context, ref string) (*models.CheckoutSession, error)
}

type paymentVerifier interface {
	VerifyByReference(ctx context.Context, txRef string) (*payment.Verification, error)
}

// amountTolerance absorbs float rounding between the gateway and stored prices.
const amountTolerance = 0.005

// PurchaseService turns payment notifications into transactions and entitlements.
type PurchaseService struct {
	writer    purchaseWriter
	sessions  checkoutReader
	courses   accessCourseReader
	verifier  paymentVerifier
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	currency  string
	now       func() time.Time
}

// PurchaseConfig tunes the payment-success handler.
type PurchaseConfig struct {
	// DefaultCurrency applies when neither the session nor the notification names one.
	DefaultCurrency string
}

// NewPurchaseService wires the payment-success handler. A nil verifier disables the
// gateway round-trip.
func NewPurchaseService(writer purchaseWriter, sessions checkoutReader, courses accessCourseReader, verifier paymentVerifier, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg PurchaseConfig) *PurchaseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	return &PurchaseService{
		writer:    writer,
		sessions:  sessions,
		courses:   courses,
		verifier:  verifier,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		currency:  strings.ToUpper(cfg.DefaultCurrency),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandlePaymentSuccess records the payment and, for a successful charge, unlocks the course.
// The transaction and the entitlement are written in one database transaction. Replaying
// a reference is a no-op. A second reference for an owned course is recorded but keeps
// the original entitlement and is reported as a duplicate purchase.
func (s *PurchaseService) HandlePaymentSuccess(ctx context.Context, cb models.PaymentCallback) (*models.PurchaseResult, error) {
	return s.handle(ctx, cb, "")
}

// verifies reports whether successful payments are confirmed with the gateway before granting.
func (s *PurchaseService) verifies() bool {
	return s.verifier != nil
}

// handle is HandlePaymentSuccess with the outbox row to close in the same write.
func (s *PurchaseService) handle(ctx context.Context, cb models.PaymentCallback, eventRef string) (*models.PurchaseResult, error) {
	cb.TxRef = strings.TrimSpace(cb.TxRef)
	if err := s.validator.Struct(cb); err != nil {
		s.metrics.RecordPurchase(PurchaseOutcomeRejected)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment notification")
	}

	success := payment.IsSuccessStatus(cb.Status)
	log := s.logger.With(zap.String("tx_ref", cb.TxRef))

	txn, session, err := s.resolve(ctx, cb, success)
	if err != nil {
		s.metrics.RecordPurchase(PurchaseOutcomeRejected)
		log.Warn("payment notification rejected", zap.Error(err))
		return nil, err
	}

	if success && s.verifier != nil {
		if err := s.verifyRemote(ctx, txn); err != nil {
			s.metrics.RecordPurchase(PurchaseOutcomeRejected)
			log.Warn("gateway verification rejected payment", zap.Error(err))
			return nil, err
		}
	}

	rec := repository.PurchaseRecord{Transaction: txn, Grant: success, EventRef: eventRef}
	if session != nil {
		rec.CheckoutRef = session.Ref
	}

	outcome, err := s.writer.Record(ctx, rec)
	if err != nil {
		s.metrics.RecordPurchase(PurchaseOutcomeFailed)
		log.Error("failed to unlock purchased course", zap.String("user_id", txn.UserID), zap.String("course_id", txn.CourseID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrPaymentUnlockFailed.Code, appErrors.ErrPaymentUnlockFailed.Status, appErrors.ErrPaymentUnlockFailed.Message)
	}

	result := &models.PurchaseResult{
		TxRef:           txn.Ref,
		UserID:          txn.UserID,
		CourseID:        txn.CourseID,
		Status:          txn.Status,
		AlreadyRecorded: !outcome.TransactionWritten,
		Entitlement:     outcome.Entitlement,
	}

	switch {
	case !success:
		s.metrics.RecordPurchase(PurchaseOutcomeRecorded)
		log.Info("non-successful payment recorded", zap.String("status", txn.Status))
	case outcome.Entitlement == nil:
		s.metrics.RecordPurchase(PurchaseOutcomeFailed)
		return nil, appErrors.Clone(appErrors.ErrPaymentUnlockFailed, appErrors.ErrPaymentUnlockFailed.Message)
	case outcome.EntitlementCreated:
		result.Granted = true
		s.metrics.RecordPurchase(PurchaseOutcomeGranted)
		log.Info("course unlocked", zap.String("user_id", txn.UserID), zap.String("course_id", txn.CourseID))
	case outcome.Entitlement.TransactionRef == txn.Ref:
		result.Granted = true
		s.metrics.RecordPurchase(PurchaseOutcomeReplayed)
	default:
		result.Granted = true
		result.DuplicatePurchase = true
		s.metrics.RecordPurchase(PurchaseOutcomeDuplicate)
		log.Warn("duplicate purchase; refund may be required",
			zap.String("user_id", txn.UserID),
			zap.String("course_id", txn.CourseID),
			zap.String("original_ref", outcome.Entitlement.TransactionRef),
			zap.Float64("amount", txn.Amount))
	}

	return result, nil
}

// resolve builds the transaction to record. A checkout session minted for the reference is
// authoritative; echoed metadata must agree with it. Without a session the course row
// supplies the price.
func (s *PurchaseService) resolve(ctx context.Context, cb models.PaymentCallback, success bool) (models.Transaction, *models.CheckoutSession, error) {
	txn := models.Transaction{
		Ref:       cb.TxRef,
		UserID:    strings.TrimSpace(cb.UserID),
		CourseID:  strings.TrimSpace(cb.CourseID),
		Amount:    cb.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(cb.Currency)),
		Status:    payment.NormalizeStatus(cb.Status),
		CreatedAt: s.now(),
	}

	session, err := s.sessions.FindByRef(ctx, cb.TxRef)
	switch {
	case err == nil:
		if txn.UserID != "" && txn.UserID != session.UserID {
			return txn, nil, appErrors.Clone(appErrors.ErrPaymentMismatch, "payment user does not match checkout")
		}
		if txn.CourseID != "" && txn.CourseID != session.CourseID {
			return txn, nil, appErrors.Clone(appErrors.ErrPaymentMismatch, "payment course does not match checkout")
		}
		if txn.Currency != "" && !strings.EqualFold(txn.Currency, session.Currency) {
			return txn, nil, appErrors.Clone(appErrors.ErrPaymentMismatch, "payment currency does not match checkout")
		}
		if success && underpaid(txn.Amount, session.Amount) {
			return txn, nil, appErrors.Clone(appErrors.ErrPaymentMismatch, "amount paid is below the checkout price")
		}
		txn.UserID = session.UserID
		txn.CourseID = session.CourseID
		txn.Currency = session.Currency
		return txn, session, nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return txn, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load checkout session")
	}

	if txn.UserID == "" || txn.CourseID == "" {
		return txn, nil, appErrors.Clone(appErrors.ErrPaymentMismatch, "payment carries no checkout session or purchase metadata")
	}
	if txn.Currency == "" {
		txn.Currency = s.currency
	}
	if !success {
		return txn, nil, nil
	}

	course, err := s.courses.FindByID(ctx, txn.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return txn, nil, appErrors.Clone(appErrors.ErrCourseNotFound, "paid course does not exist")
		}
		return txn, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.Currency != "" && !strings.EqualFold(course.Currency, txn.Currency) {
		return txn, nil, appErrors.Clone(appErrors.ErrPaymentMismatch, "payment currency does not match course")
	}
	if underpaid(txn.Amount, course.Price) {
		return txn, nil, appErrors.Clone(appErrors.ErrPaymentMismatch, "amount paid is below the course price")
	}
	return txn, nil, nil
}

func (s *PurchaseService) verifyRemote(ctx context.Context, txn models.Transaction) error {
	verification, err := s.verifier.VerifyByReference(ctx, txn.Ref)
	if err != nil {
		if errors.Is(err, payment.ErrTransactionNotFound) {
			return appErrors.Clone(appErrors.ErrPaymentMismatch, "gateway has no record of this payment")
		}
		return appErrors.Wrap(err, appErrors.ErrPaymentUnlockFailed.Code, appErrors.ErrPaymentUnlockFailed.Status, "failed to verify payment with gateway")
	}
	if !payment.IsSuccessStatus(verification.Status) {
		return appErrors.Clone(appErrors.ErrPaymentNotSuccess, "gateway reports the payment as "+payment.NormalizeStatus(verification.Status))
	}
	if verification.Currency != "" && !strings.EqualFold(verification.Currency, txn.Currency) {
		return appErrors.Clone(appErrors.ErrPaymentMismatch, "gateway currency does not match")
	}
	if underpaid(verification.Amount, txn.Amount) {
		return appErrors.Clone(appErrors.ErrPaymentMismatch, "gateway amount is below the notified amount")
	}
	return nil
}

func underpaid(paid, price float64) bool {
	return paid+amountTolerance < price || math.IsNaN(paid)
}
