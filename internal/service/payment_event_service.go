package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/coursemart-api/internal/models"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
	"github.com/noah-isme/coursemart-api/pkg/jobs"
	"github.com/noah-isme/coursemart-api/pkg/payment"
)

// JobTypeProjectPayment is the queue job that projects one payment event.
const JobTypeProjectPayment = "payment.project"

type paymentEventStore interface {
	Insert(ctx context.Context, event *models.PaymentEvent) (bool, error)
	FindByRef(ctx context.Context, ref string) (*models.PaymentEvent, error)
	ListPending(ctx context.Context, limit int) ([]models.PaymentEvent, error)
	RecordFailure(ctx context.Context, ref, reason string) error
	Reject(ctx context.Context, ref, reason string, at time.Time) error
}

type webhookVerifier interface {
	Verify(verifHash, signature string, body []byte) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// PaymentEventService is the payment outbox: it stores every notification keyed by
// reference and projects stored events into purchases, once, with retries.
type PaymentEventService struct {
	events    paymentEventStore
	purchases *PurchaseService
	verifier  webhookVerifier
	queue     jobEnqueuer
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewPaymentEventService wires the outbox. The queue is attached separately because
// the queue's handler is this service.
func NewPaymentEventService(events paymentEventStore, purchases *PurchaseService, verifier webhookVerifier, metrics *MetricsService, logger *zap.Logger) *PaymentEventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentEventService{
		events:    events,
		purchases: purchases,
		verifier:  verifier,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "payment_events")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AttachQueue sets the queue projector jobs are pushed onto.
func (s *PaymentEventService) AttachQueue(queue jobEnqueuer) {
	s.queue = queue
}

// ReceiveWebhook authenticates and stores a gateway notification, then schedules its
// projection. Redelivery of a stored reference is accepted without a second row.
func (s *PaymentEventService) ReceiveWebhook(ctx context.Context, verifHash, signature string, body []byte) (*models.PaymentEvent, error) {
	if err := s.verifier.Verify(verifHash, signature, body); err != nil {
		s.metrics.RecordPaymentEvent(EventOutcomeInvalid)
		if errors.Is(err, payment.ErrVerifierNotConfigured) {
			s.logger.Error("webhook secret is not configured")
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusServiceUnavailable, "webhook verification is not configured")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidSignature.Code, appErrors.ErrInvalidSignature.Status, appErrors.ErrInvalidSignature.Message)
	}

	evt, err := payment.ParseEvent(body)
	if err != nil {
		s.metrics.RecordPaymentEvent(EventOutcomeInvalid)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed payment event")
	}
	amount, _ := evt.AmountValue()

	event := &models.PaymentEvent{
		Ref:      evt.Data.TxRef,
		Source:   models.PaymentSourceWebhook,
		Status:   payment.NormalizeStatus(evt.Data.Status),
		Amount:   amount,
		Currency: strings.ToUpper(evt.Data.Currency),
		Payload:  models.EventPayload(body),
	}
	return s.store(ctx, event)
}

// Callback feeds a client-reported payment result through the outbox. The principal's id
// replaces whatever user id the client echoed. With gateway verification configured the
// event is projected immediately. Otherwise the result only awaits the signed webhook,
// and the course stays locked until it arrives.
func (s *PaymentEventService) Callback(ctx context.Context, principal models.Principal, cb models.PaymentCallback) (*models.PurchaseResult, error) {
	if !principal.Authenticated() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	cb.TxRef = strings.TrimSpace(cb.TxRef)
	cb.UserID = principal.UserID
	if cb.TxRef == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "tx_ref is required")
	}

	payload, err := json.Marshal(cb)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode payment callback")
	}
	event := &models.PaymentEvent{
		Ref:      cb.TxRef,
		Source:   models.PaymentSourceCallback,
		Status:   payment.NormalizeStatus(cb.Status),
		Amount:   cb.Amount,
		Currency: strings.ToUpper(cb.Currency),
		Payload:  models.EventPayload(payload),
	}

	if !s.purchases.verifies() {
		stored, err := s.store(ctx, event)
		if err != nil {
			return nil, err
		}
		return awaitingResult(cb, stored), nil
	}

	if _, err := s.events.Insert(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store payment event")
	}
	// The client is waiting, so project now rather than through the queue. The write is
	// idempotent, so racing with a queued webhook for the same reference is harmless.
	result, err := s.purchases.handle(ctx, cb, cb.TxRef)
	if err != nil {
		s.recordProjectionError(ctx, cb.TxRef, err)
		return nil, err
	}
	s.metrics.RecordPaymentEvent(EventOutcomeProcessed)
	return result, nil
}

// awaitingResult reports an unverified callback from the row the outbox holds for its
// reference. Only a projected webhook row can report the course as granted.
func awaitingResult(cb models.PaymentCallback, stored *models.PaymentEvent) *models.PurchaseResult {
	result := &models.PurchaseResult{
		TxRef:                cb.TxRef,
		UserID:               cb.UserID,
		CourseID:             cb.CourseID,
		Status:               models.TransactionPending,
		AwaitingConfirmation: true,
	}
	if stored.Source != models.PaymentSourceWebhook {
		return result
	}
	result.Status = stored.Status
	if stored.Processed() {
		result.AwaitingConfirmation = false
		result.Granted = stored.LastError == nil && payment.IsSuccessStatus(stored.Status)
	}
	return result
}

func (s *PaymentEventService) store(ctx context.Context, event *models.PaymentEvent) (*models.PaymentEvent, error) {
	inserted, err := s.events.Insert(ctx, event)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store payment event")
	}

	if !inserted {
		s.metrics.RecordPaymentEvent(EventOutcomeDuplicate)
		existing, err := s.events.FindByRef(ctx, event.Ref)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment event")
		}
		if !existing.Processed() {
			s.enqueue(existing.Ref)
		}
		return existing, nil
	}

	s.metrics.RecordPaymentEvent(EventOutcomeAccepted)
	s.enqueue(event.Ref)
	return event, nil
}

func (s *PaymentEventService) enqueue(ref string) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: ref, Type: JobTypeProjectPayment, Payload: ref}); err != nil {
		// The row is pending in the outbox; the next replay picks it up.
		s.logger.Warn("failed to enqueue payment event", zap.String("tx_ref", ref), zap.Error(err))
	}
}

// HandleJob is the queue handler. Permanent rejections are closed and not retried.
func (s *PaymentEventService) HandleJob(ctx context.Context, job jobs.Job) error {
	ref, ok := job.Payload.(string)
	if !ok || ref == "" {
		return fmt.Errorf("job %s: payload is not a payment reference", job.ID)
	}
	_, err := s.ProcessRef(ctx, ref)
	if err != nil && permanent(err) {
		return nil
	}
	return err
}

// DeadLetter is invoked when a projection has used up its retries. The row stays
// pending so an operator can reconcile it.
func (s *PaymentEventService) DeadLetter(job jobs.Job, err error) {
	s.metrics.RecordPaymentEvent(EventOutcomeDead)
	s.logger.Error("payment event projection abandoned; run reconcile once resolved",
		zap.String("tx_ref", job.ID),
		zap.Int("attempts", job.Attempt),
		zap.Error(err))
}

// ProcessRef projects the stored event for ref unless it is already processed.
func (s *PaymentEventService) ProcessRef(ctx context.Context, ref string) (*models.PurchaseResult, error) {
	event, err := s.events.FindByRef(ctx, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment event")
	}
	if event.Processed() {
		return nil, nil
	}
	return s.project(ctx, event)
}

func (s *PaymentEventService) project(ctx context.Context, event *models.PaymentEvent) (*models.PurchaseResult, error) {
	cb, err := CallbackFromEvent(event)
	if err != nil {
		wrapped := appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "stored payment event is unreadable")
		s.recordProjectionError(ctx, event.Ref, wrapped)
		return nil, wrapped
	}

	if event.Source == models.PaymentSourceCallback && !s.purchases.verifies() {
		// Unverified client reports never unlock a course.
		cb.Status = models.TransactionPending
	}

	result, err := s.purchases.handle(ctx, cb, event.Ref)
	if err != nil {
		s.recordProjectionError(ctx, event.Ref, err)
		return nil, err
	}
	s.metrics.RecordPaymentEvent(EventOutcomeProcessed)
	return result, nil
}

func (s *PaymentEventService) recordProjectionError(ctx context.Context, ref string, err error) {
	reason := appErrors.FromError(err).Error()
	if permanent(err) {
		s.metrics.RecordPaymentEvent(EventOutcomeInvalid)
		if rerr := s.events.Reject(ctx, ref, reason, s.now()); rerr != nil {
			s.logger.Warn("failed to reject payment event", zap.String("tx_ref", ref), zap.Error(rerr))
		}
		return
	}
	s.metrics.RecordPaymentEvent(EventOutcomeFailed)
	if rerr := s.events.RecordFailure(ctx, ref, reason); rerr != nil {
		s.logger.Warn("failed to record payment event failure", zap.String("tx_ref", ref), zap.Error(rerr))
	}
}

// EnqueuePending pushes every unprocessed event onto the queue. It is safe to run repeatedly.
func (s *PaymentEventService) EnqueuePending(ctx context.Context, limit int) (int, error) {
	events, err := s.events.ListPending(ctx, limit)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending payment events")
	}
	for _, event := range events {
		s.enqueue(event.Ref)
	}
	if len(events) > 0 {
		s.logger.Info("re-enqueued pending payment events", zap.Int("count", len(events)))
	}
	return len(events), nil
}

// Reconcile projects every unprocessed event synchronously and reports the outcome.
func (s *PaymentEventService) Reconcile(ctx context.Context, limit int) (*models.ReplaySummary, error) {
	events, err := s.events.ListPending(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending payment events")
	}

	summary := &models.ReplaySummary{Scanned: len(events)}
	for i := range events {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if _, err := s.project(ctx, &events[i]); err != nil {
			summary.Failed++
			summary.FailedRef = append(summary.FailedRef, events[i].Ref)
			continue
		}
		summary.Processed++
	}
	return summary, nil
}

// CallbackFromEvent rebuilds the purchase input from a stored event.
func CallbackFromEvent(event *models.PaymentEvent) (models.PaymentCallback, error) {
	switch event.Source {
	case models.PaymentSourceWebhook:
		evt, err := payment.ParseEvent(event.Payload)
		if err != nil {
			return models.PaymentCallback{}, err
		}
		amount, _ := evt.AmountValue()
		return models.PaymentCallback{
			TxRef:    evt.Data.TxRef,
			Status:   evt.Data.Status,
			Amount:   amount,
			Currency: evt.Data.Currency,
			UserID:   evt.Data.Meta.UserID,
			CourseID: evt.Data.Meta.CourseID,
		}, nil
	case models.PaymentSourceCallback:
		var cb models.PaymentCallback
		if err := json.Unmarshal(event.Payload, &cb); err != nil {
			return models.PaymentCallback{}, fmt.Errorf("decode callback payload: %w", err)
		}
		return cb, nil
	default:
		return models.PaymentCallback{}, fmt.Errorf("unknown payment event source %q", event.Source)
	}
}

// permanent reports whether retrying err can never succeed.
func permanent(err error) bool {
	status := appErrors.FromError(err).Status
	return status >= 400 && status < 500
}
