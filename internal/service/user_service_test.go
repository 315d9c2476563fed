package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/coursemart-api/internal/models"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
)

type mockUserRepo struct {
	users     map[string]*models.User
	updated   *models.User
	profile   *models.User
	deleted   []string
	auditLogs []*models.AuditLog
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var users []models.User
	for _, u := range m.users {
		users = append(users, *u)
	}
	return users, len(users), nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := m.users[id]; ok {
		copy := *user
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	m.updated = user
	return nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, user *models.User) error {
	m.profile = user
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.users[id]; !ok {
		return sql.ErrNoRows
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func strPtr(v string) *string { return &v }

func newUserFixture() *mockUserRepo {
	return &mockUserRepo{users: map[string]*models.User{
		"admin": {ID: "admin", Email: "admin@example.com", Role: models.RoleAdmin, Status: models.UserStatusActive},
		"root":  {ID: "root", Email: "root@example.com", Role: models.RoleSuperuser, Status: models.UserStatusActive},
		"u1":    {ID: "u1", Email: "u1@example.com", DisplayName: "Student One", Role: models.RoleStudent, Status: models.UserStatusActive},
	}}
}

func TestUserServiceUpdateRoleAndStatus(t *testing.T) {
	repo := newUserFixture()
	svc := NewUserService(repo, nil, nil, zap.NewNop())
	actor := models.Principal{UserID: "admin", Role: models.RoleAdmin}

	user, err := svc.Update(context.Background(), "u1", UpdateUserRequest{Role: strPtr("instructor"), Status: strPtr("inactive")}, actor, ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.RoleInstructor, user.Role)
	assert.Equal(t, models.UserStatusInactive, user.Status)
	assert.Equal(t, "Student One", user.DisplayName)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserUpdate, repo.auditLogs[0].Action)
	assert.Contains(t, string(repo.auditLogs[0].OldValues), `"role":"student"`)
}

func TestUserServiceUpdateRejectsUnknownRole(t *testing.T) {
	svc := NewUserService(newUserFixture(), nil, nil, nil)

	_, err := svc.Update(context.Background(), "u1", UpdateUserRequest{Role: strPtr("owner")}, models.Principal{UserID: "admin", Role: models.RoleAdmin}, ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceSuperuserGuard(t *testing.T) {
	repo := newUserFixture()
	svc := NewUserService(repo, nil, nil, nil)
	admin := models.Principal{UserID: "admin", Role: models.RoleAdmin}

	_, err := svc.Update(context.Background(), "u1", UpdateUserRequest{Role: strPtr("superuser")}, admin, ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	err = svc.Delete(context.Background(), "root", admin, ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.updated)
	assert.Empty(t, repo.deleted)
}

func TestUserServiceSelfProtection(t *testing.T) {
	svc := NewUserService(newUserFixture(), nil, nil, nil)
	admin := models.Principal{UserID: "admin", Role: models.RoleAdmin}

	_, err := svc.Update(context.Background(), "admin", UpdateUserRequest{Status: strPtr("inactive")}, admin, ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	err = svc.Delete(context.Background(), "admin", admin, ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserServiceDelete(t *testing.T) {
	repo := newUserFixture()
	svc := NewUserService(repo, nil, nil, nil)

	require.NoError(t, svc.Delete(context.Background(), "u1", models.Principal{UserID: "admin", Role: models.RoleAdmin}, ClientMeta{IP: "127.0.0.1"}))
	assert.Equal(t, []string{"u1"}, repo.deleted)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, "127.0.0.1", repo.auditLogs[0].IPAddress)

	err := svc.Delete(context.Background(), "missing", models.Principal{UserID: "admin", Role: models.RoleAdmin}, ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserServiceUpdateProfileUsesPrincipal(t *testing.T) {
	repo := newUserFixture()
	svc := NewUserService(repo, nil, nil, nil)

	user, err := svc.UpdateProfile(context.Background(), models.Principal{UserID: "u1", Role: models.RoleStudent}, UpdateProfileRequest{
		DisplayName: "<b>Student</b> One",
		Headline:    "Learner",
		Bio:         `<p>Hello</p><script>alert(1)</script>`,
		Website:     "https://example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, repo.profile)
	assert.Equal(t, "u1", repo.profile.ID)
	assert.Equal(t, "Student One", user.DisplayName)
	assert.Equal(t, "<p>Hello</p>", user.Profile.Bio)
	assert.Equal(t, models.RoleStudent, user.Role)

	_, err = svc.UpdateProfile(context.Background(), models.Principal{}, UpdateProfileRequest{DisplayName: "Nobody"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestUserServiceListPagination(t *testing.T) {
	svc := NewUserService(newUserFixture(), nil, nil, nil)

	users, pagination, err := svc.List(context.Background(), models.UserFilter{Page: 0, PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, users, 3)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 100, pagination.PageSize)
	assert.Equal(t, 3, pagination.TotalCount)
}
