package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coursemart-api/internal/models"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
)

type mockCheckoutStore struct {
	created   []*models.CheckoutSession
	cancelled []string
}

func (m *mockCheckoutStore) Create(ctx context.Context, session *models.CheckoutSession) error {
	m.created = append(m.created, session)
	return nil
}

func (m *mockCheckoutStore) Cancel(ctx context.Context, ref, userID string) error {
	for _, session := range m.created {
		if session.Ref == ref && session.UserID == userID && session.Status == models.CheckoutPending {
			session.Status = models.CheckoutCancelled
			m.cancelled = append(m.cancelled, ref)
			return nil
		}
	}
	return sql.ErrNoRows
}

type mockOwnership struct {
	owned map[string]bool
	err   error
}

func (m *mockOwnership) Exists(ctx context.Context, userID, courseID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.owned[entitlementKey(userID, courseID)], nil
}

func newCheckoutFixture() (*CheckoutService, *mockCheckoutStore, *mockOwnership) {
	store := &mockCheckoutStore{}
	owned := &mockOwnership{owned: map[string]bool{}}
	courses := &fakeCourseStore{courses: map[string]*models.Course{
		"c1": {ID: "c1", Title: "Go", Price: 59.99, Currency: "usd"},
		"c2": {ID: "c2", Title: "Rust", Price: 20},
	}}
	users := &mockUserRepo{users: map[string]*models.User{
		"u1": {ID: "u1", Email: "u1@example.com", DisplayName: "Ada"},
	}}
	svc := NewCheckoutService(store, courses, users, owned, nil, nil, CheckoutConfig{PublicKey: "pk_test", RedirectURL: "https://app.test/done", DefaultCurrency: "ngn"})
	return svc, store, owned
}

func TestCheckoutServiceStartUsesCoursePrice(t *testing.T) {
	svc, store, _ := newCheckoutFixture()

	init, err := svc.Start(context.Background(), models.Principal{UserID: "u1"}, models.CheckoutRequest{CourseID: "c1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(init.TxRef, models.CheckoutRefPrefix))
	assert.Equal(t, 59.99, init.Amount)
	assert.Equal(t, "USD", init.Currency)
	assert.Equal(t, "u1@example.com", init.Customer.Email)
	assert.Equal(t, models.CheckoutMeta{UserID: "u1", CourseID: "c1"}, init.Meta)
	assert.Equal(t, "pk_test", init.PublicKey)
	require.Len(t, store.created, 1)
	assert.Equal(t, init.TxRef, store.created[0].Ref)
	assert.Equal(t, models.CheckoutPending, store.created[0].Status)

	other, err := svc.Start(context.Background(), models.Principal{UserID: "u1"}, models.CheckoutRequest{CourseID: "c2"})
	require.NoError(t, err)
	assert.Equal(t, "NGN", other.Currency)
	assert.NotEqual(t, init.TxRef, other.TxRef)
}

func TestCheckoutServiceAlreadyEntitled(t *testing.T) {
	svc, store, owned := newCheckoutFixture()
	owned.owned[entitlementKey("u1", "c1")] = true

	_, err := svc.Start(context.Background(), models.Principal{UserID: "u1"}, models.CheckoutRequest{CourseID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyEntitled.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 409, appErrors.FromError(err).Status)
	assert.Empty(t, store.created)
}

func TestCheckoutServiceErrors(t *testing.T) {
	svc, _, owned := newCheckoutFixture()

	_, err := svc.Start(context.Background(), models.Principal{}, models.CheckoutRequest{CourseID: "c1"})
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	_, err = svc.Start(context.Background(), models.Principal{UserID: "u1"}, models.CheckoutRequest{CourseID: "missing"})
	assert.Equal(t, appErrors.ErrCourseNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.Start(context.Background(), models.Principal{UserID: "u1"}, models.CheckoutRequest{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	owned.err = errors.New("timeout")
	_, err = svc.Start(context.Background(), models.Principal{UserID: "u1"}, models.CheckoutRequest{CourseID: "c1"})
	assert.Equal(t, appErrors.ErrAccessUnavailable.Code, appErrors.FromError(err).Code)
}

func TestCheckoutServiceCancel(t *testing.T) {
	svc, store, _ := newCheckoutFixture()
	init, err := svc.Start(context.Background(), models.Principal{UserID: "u1"}, models.CheckoutRequest{CourseID: "c1"})
	require.NoError(t, err)

	err = svc.Cancel(context.Background(), models.Principal{UserID: "u2"}, init.TxRef)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.Cancel(context.Background(), models.Principal{UserID: "u1"}, init.TxRef))
	assert.Equal(t, []string{init.TxRef}, store.cancelled)

	err = svc.Cancel(context.Background(), models.Principal{UserID: "u1"}, init.TxRef)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
