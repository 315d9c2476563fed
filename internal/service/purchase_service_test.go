package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coursemart-api/internal/models"
	"github.com/noah-isme/coursemart-api/internal/repository"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
	"github.com/noah-isme/coursemart-api/pkg/payment"
)

// memPurchaseStore applies PurchaseRecord the way the SQL transaction does: all or nothing.
type memPurchaseStore struct {
	mu           sync.Mutex
	transactions map[string]models.Transaction
	entitlements map[string]models.Entitlement
	sessions     map[string]*models.CheckoutSession
	closed       map[string]bool
	students     map[string]int
	failWith     error
}

func newMemPurchaseStore() *memPurchaseStore {
	return &memPurchaseStore{
		transactions: make(map[string]models.Transaction),
		entitlements: make(map[string]models.Entitlement),
		sessions:     make(map[string]*models.CheckoutSession),
		closed:       make(map[string]bool),
		students:     make(map[string]int),
	}
}

func (m *memPurchaseStore) Record(ctx context.Context, rec repository.PurchaseRecord) (*repository.PurchaseOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	txn := rec.Transaction
	outcome := &repository.PurchaseOutcome{}
	stored := txn
	if existing, ok := m.transactions[txn.Ref]; !ok {
		outcome.TransactionWritten = true
	} else if existing.Status != models.TransactionSuccessful && existing.Status != models.TransactionManual && existing.Status != txn.Status {
		outcome.TransactionWritten = true
		stored.CreatedAt = existing.CreatedAt
	}
	key := entitlementKey(txn.UserID, txn.CourseID)
	var ent models.Entitlement
	if rec.Grant {
		existing, ok := m.entitlements[key]
		if ok && rec.Exclusive {
			return nil, repository.ErrDuplicate
		}
		if !ok {
			existing = models.Entitlement{UserID: txn.UserID, CourseID: txn.CourseID, PurchasedAt: txn.CreatedAt, TransactionRef: txn.Ref}
			outcome.EntitlementCreated = true
		}
		ent = existing
		outcome.Entitlement = &ent
	}

	if outcome.TransactionWritten {
		m.transactions[txn.Ref] = stored
	}
	if outcome.EntitlementCreated {
		m.entitlements[key] = ent
		m.students[txn.CourseID]++
	}
	if session, ok := m.sessions[rec.CheckoutRef]; ok && session.Status == models.CheckoutPending {
		switch {
		case rec.Grant:
			session.Status = models.CheckoutCompleted
		case txn.Status == models.TransactionFailed, txn.Status == models.TransactionCancelled:
			session.Status = models.CheckoutCancelled
		}
	}
	if rec.EventRef != "" {
		m.closed[rec.EventRef] = true
	}
	return outcome, nil
}

func (m *memPurchaseStore) FindByRef(ctx context.Context, ref string) (*models.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[ref]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *session
	return &copy, nil
}

func (m *memPurchaseStore) Find(ctx context.Context, userID, courseID string) (*models.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.entitlements[entitlementKey(userID, courseID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &ent, nil
}

type stubVerifier struct {
	verification *payment.Verification
	err          error
	calls        int
}

func (s *stubVerifier) VerifyByReference(ctx context.Context, txRef string) (*payment.Verification, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.verification, nil
}

func purchaseFixture() (*memPurchaseStore, *fakeCourseStore) {
	store := newMemPurchaseStore()
	courses := &fakeCourseStore{courses: map[string]*models.Course{
		"c1": {ID: "c1", Title: "Go", Price: 59.99, Currency: "USD"},
	}}
	return store, courses
}

func newTestPurchaseService(store *memPurchaseStore, courses *fakeCourseStore, verifier paymentVerifier, metrics *MetricsService) *PurchaseService {
	return NewPurchaseService(store, store, courses, verifier, nil, metrics, nil, PurchaseConfig{DefaultCurrency: "usd"})
}

func successCallback(ref string) models.PaymentCallback {
	return models.PaymentCallback{TxRef: ref, Status: "successful", Amount: 59.99, Currency: "USD", UserID: "u1", CourseID: "c1"}
}

func TestPurchaseServiceHappyPath(t *testing.T) {
	store, courses := purchaseFixture()
	svc := newTestPurchaseService(store, courses, nil, nil)

	result, err := svc.HandlePaymentSuccess(context.Background(), successCallback("tx_abc"))
	require.NoError(t, err)
	assert.True(t, result.Granted)
	assert.False(t, result.DuplicatePurchase)
	assert.False(t, result.AlreadyRecorded)

	ent := store.entitlements[entitlementKey("u1", "c1")]
	assert.Equal(t, "tx_abc", ent.TransactionRef)
	txn := store.transactions["tx_abc"]
	assert.Equal(t, 59.99, txn.Amount)
	assert.Equal(t, models.TransactionSuccessful, txn.Status)
	assert.Equal(t, 1, store.students["c1"])

	access := NewAccessService(courses, store, nil, nil, nil)
	decision, err := access.Check(context.Background(), models.Principal{UserID: "u1"}, "c1")
	require.NoError(t, err)
	assert.True(t, decision.Granted)
}

func TestPurchaseServiceReplaySameReference(t *testing.T) {
	store, courses := purchaseFixture()
	metrics := NewMetricsService()
	svc := newTestPurchaseService(store, courses, nil, metrics)

	_, err := svc.HandlePaymentSuccess(context.Background(), successCallback("tx_abc"))
	require.NoError(t, err)
	result, err := svc.HandlePaymentSuccess(context.Background(), successCallback("tx_abc"))
	require.NoError(t, err)

	assert.True(t, result.Granted)
	assert.True(t, result.AlreadyRecorded)
	assert.False(t, result.DuplicatePurchase)
	assert.Len(t, store.transactions, 1)
	assert.Len(t, store.entitlements, 1)
	assert.Equal(t, 1, store.students["c1"])
	assert.Equal(t, uint64(1), metrics.Snapshot().Purchases[PurchaseOutcomeReplayed])
}

func TestPurchaseServiceSecondReferenceKeepsOriginal(t *testing.T) {
	store, courses := purchaseFixture()
	metrics := NewMetricsService()
	svc := newTestPurchaseService(store, courses, nil, metrics)

	_, err := svc.HandlePaymentSuccess(context.Background(), successCallback("tx_abc"))
	require.NoError(t, err)
	result, err := svc.HandlePaymentSuccess(context.Background(), successCallback("tx_retry"))
	require.NoError(t, err)

	assert.True(t, result.DuplicatePurchase)
	assert.False(t, result.AlreadyRecorded)
	assert.Len(t, store.transactions, 2)
	assert.Len(t, store.entitlements, 1)
	assert.Equal(t, "tx_abc", store.entitlements[entitlementKey("u1", "c1")].TransactionRef)
	assert.Equal(t, uint64(1), metrics.Snapshot().Purchases[PurchaseOutcomeDuplicate])
}

func TestPurchaseServiceWriteFailureLeavesNothingBehind(t *testing.T) {
	store, courses := purchaseFixture()
	store.failWith = errors.New("insert transaction: connection reset")
	svc := newTestPurchaseService(store, courses, nil, nil)

	_, err := svc.HandlePaymentSuccess(context.Background(), successCallback("tx_abc"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrPaymentUnlockFailed.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "payment succeeded, but unlocking failed")
	assert.Empty(t, store.entitlements)
	assert.Empty(t, store.transactions)

	store.failWith = nil
	result, err := svc.HandlePaymentSuccess(context.Background(), successCallback("tx_abc"))
	require.NoError(t, err)
	assert.True(t, result.Granted)
}

func TestPurchaseServiceNonSuccessNeverGrants(t *testing.T) {
	for _, status := range []string{"pending", "failed", "cancelled", "FAILED"} {
		store, courses := purchaseFixture()
		svc := newTestPurchaseService(store, courses, nil, nil)
		cb := successCallback("tx_" + status)
		cb.Status = status
		cb.Amount = 0

		result, err := svc.HandlePaymentSuccess(context.Background(), cb)
		require.NoError(t, err, status)
		assert.False(t, result.Granted, status)
		assert.Empty(t, store.entitlements, status)
		require.Len(t, store.transactions, 1, status)
	}
}

func TestPurchaseServiceSuccessAliases(t *testing.T) {
	for _, status := range []string{"success", "completed", "Successful"} {
		store, courses := purchaseFixture()
		svc := newTestPurchaseService(store, courses, nil, nil)
		cb := successCallback("tx_" + status)
		cb.Status = status

		result, err := svc.HandlePaymentSuccess(context.Background(), cb)
		require.NoError(t, err, status)
		assert.True(t, result.Granted, status)
		assert.Equal(t, models.TransactionSuccessful, store.transactions[cb.TxRef].Status)
	}
}

func TestPurchaseServiceUnderpaymentRejected(t *testing.T) {
	store, courses := purchaseFixture()
	svc := newTestPurchaseService(store, courses, nil, nil)
	cb := successCallback("tx_cheap")
	cb.Amount = 1

	_, err := svc.HandlePaymentSuccess(context.Background(), cb)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPaymentMismatch.Code, appErrors.FromError(err).Code)
	assert.Empty(t, store.transactions)
}

func TestPurchaseServiceSessionIsAuthoritative(t *testing.T) {
	store, courses := purchaseFixture()
	store.sessions["cm_1"] = &models.CheckoutSession{Ref: "cm_1", UserID: "u1", CourseID: "c1", Amount: 59.99, Currency: "USD", Status: models.CheckoutPending}
	svc := newTestPurchaseService(store, courses, nil, nil)

	forged := models.PaymentCallback{TxRef: "cm_1", Status: "successful", Amount: 59.99, UserID: "attacker", CourseID: "c1"}
	_, err := svc.HandlePaymentSuccess(context.Background(), forged)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPaymentMismatch.Code, appErrors.FromError(err).Code)

	bare := models.PaymentCallback{TxRef: "cm_1", Status: "successful", Amount: 59.99}
	result, err := svc.HandlePaymentSuccess(context.Background(), bare)
	require.NoError(t, err)
	assert.Equal(t, "u1", result.UserID)
	assert.Equal(t, "c1", result.CourseID)
	assert.Equal(t, "USD", store.transactions["cm_1"].Currency)
	assert.Equal(t, models.CheckoutCompleted, store.sessions["cm_1"].Status)
}

func TestPurchaseServicePendingThenSuccessfulCompletesSession(t *testing.T) {
	store, courses := purchaseFixture()
	store.sessions["cm_2"] = &models.CheckoutSession{Ref: "cm_2", UserID: "u1", CourseID: "c1", Amount: 59.99, Currency: "USD", Status: models.CheckoutPending}
	svc := newTestPurchaseService(store, courses, nil, nil)

	pending := models.PaymentCallback{TxRef: "cm_2", Status: "pending", Amount: 59.99}
	result, err := svc.HandlePaymentSuccess(context.Background(), pending)
	require.NoError(t, err)
	assert.False(t, result.Granted)
	assert.Equal(t, models.CheckoutPending, store.sessions["cm_2"].Status)
	assert.Equal(t, models.TransactionPending, store.transactions["cm_2"].Status)

	paid := models.PaymentCallback{TxRef: "cm_2", Status: "successful", Amount: 59.99}
	result, err = svc.HandlePaymentSuccess(context.Background(), paid)
	require.NoError(t, err)
	assert.True(t, result.Granted)
	assert.Equal(t, models.CheckoutCompleted, store.sessions["cm_2"].Status)
	assert.Equal(t, models.TransactionSuccessful, store.transactions["cm_2"].Status)
	assert.Equal(t, "cm_2", store.entitlements[entitlementKey("u1", "c1")].TransactionRef)
}

func TestPurchaseServiceFailedPaymentCancelsSession(t *testing.T) {
	store, courses := purchaseFixture()
	store.sessions["cm_3"] = &models.CheckoutSession{Ref: "cm_3", UserID: "u1", CourseID: "c1", Amount: 59.99, Currency: "USD", Status: models.CheckoutPending}
	svc := newTestPurchaseService(store, courses, nil, nil)

	_, err := svc.HandlePaymentSuccess(context.Background(), models.PaymentCallback{TxRef: "cm_3", Status: "failed"})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutCancelled, store.sessions["cm_3"].Status)
}

func TestPurchaseServiceMissingMetadataRejected(t *testing.T) {
	store, courses := purchaseFixture()
	svc := newTestPurchaseService(store, courses, nil, nil)

	_, err := svc.HandlePaymentSuccess(context.Background(), models.PaymentCallback{TxRef: "tx_x", Status: "successful", Amount: 10})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPaymentMismatch.Code, appErrors.FromError(err).Code)

	_, err = svc.HandlePaymentSuccess(context.Background(), models.PaymentCallback{Status: "successful"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestPurchaseServiceRemoteVerification(t *testing.T) {
	store, courses := purchaseFixture()
	verifier := &stubVerifier{verification: &payment.Verification{TxRef: "tx_abc", Status: "failed", Amount: 59.99, Currency: "USD"}}
	svc := newTestPurchaseService(store, courses, verifier, nil)

	_, err := svc.HandlePaymentSuccess(context.Background(), successCallback("tx_abc"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPaymentNotSuccess.Code, appErrors.FromError(err).Code)
	assert.Empty(t, store.entitlements)

	verifier.verification.Status = "successful"
	result, err := svc.HandlePaymentSuccess(context.Background(), successCallback("tx_abc"))
	require.NoError(t, err)
	assert.True(t, result.Granted)
	assert.Equal(t, 2, verifier.calls)

	verifier.err = payment.ErrTransactionNotFound
	_, err = svc.HandlePaymentSuccess(context.Background(), successCallback("tx_ghost"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPaymentMismatch.Code, appErrors.FromError(err).Code)
}
