package service

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coursemart-api/internal/models"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
	"github.com/noah-isme/coursemart-api/pkg/storage"
)

type mockResourceRepo struct {
	items   map[string]*models.Resource
	created int
	audit   []*models.AuditLog
}

func (m *mockResourceRepo) Create(ctx context.Context, res *models.Resource) error {
	m.created++
	res.ID = "res-" + string(rune('0'+m.created))
	copy := *res
	m.items[res.ID] = &copy
	return nil
}

func (m *mockResourceRepo) FindByID(ctx context.Context, id string) (*models.Resource, error) {
	res, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *res
	return &copy, nil
}

func (m *mockResourceRepo) List(ctx context.Context, filter models.ResourceFilter) ([]models.Resource, int, error) {
	var out []models.Resource
	for _, res := range m.items {
		out = append(out, *res)
	}
	return out, len(out), nil
}

func (m *mockResourceRepo) Update(ctx context.Context, res *models.Resource) error {
	if _, ok := m.items[res.ID]; !ok {
		return sql.ErrNoRows
	}
	copy := *res
	m.items[res.ID] = &copy
	return nil
}

func (m *mockResourceRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.items, id)
	return nil
}

func (m *mockResourceRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.audit = append(m.audit, log)
	return nil
}

type stubAccess struct {
	decision models.AccessDecision
	calls    int
}

func (s *stubAccess) Check(ctx context.Context, principal models.Principal, courseID string) (models.AccessDecision, error) {
	s.calls++
	return s.decision, nil
}

type resourceFixture struct {
	svc    *ResourceService
	repo   *mockResourceRepo
	store  *storage.LocalStorage
	access *stubAccess
}

func newResourceFixture(t *testing.T, maxSize int64) resourceFixture {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("resource-secret", time.Minute)
	resolver := storage.NewURLResolver(signer, "https://api.test")
	repo := &mockResourceRepo{items: map[string]*models.Resource{}}
	access := &stubAccess{decision: models.AccessDecision{Reason: models.AccessReasonNotEntitled, Redirect: "/courses/c1"}}
	svc := NewResourceService(repo, store, resolver, signer, access, repo, nil, nil, nil, ResourceConfig{
		MaxFileSize:  maxSize,
		AllowedMIMEs: []string{"application/pdf", "text/plain"},
	})
	return resourceFixture{svc: svc, repo: repo, store: store, access: access}
}

func textUpload(name, body string) ResourceUpload {
	return ResourceUpload{Filename: name, Size: int64(len(body)), Content: bytes.NewReader([]byte(body))}
}

func TestResourceServiceUploadAndDownload(t *testing.T) {
	fx := newResourceFixture(t, 1024)
	ctx := context.Background()

	res, err := fx.svc.Upload(ctx, models.CreateResourceRequest{Title: "Notes"}, textUpload("../week 1.txt", "hello world"), models.Principal{UserID: "admin"}, ClientMeta{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.StorageURI, "local://resources/"))
	assert.Equal(t, "week_1.txt", res.FileName)
	assert.Equal(t, "text/plain", res.ContentType)
	assert.EqualValues(t, 11, res.SizeBytes)
	require.Len(t, fx.repo.audit, 1)

	link, err := fx.svc.ResolveDownloadURL(ctx, models.Principal{UserID: "u1", Role: models.RoleStudent}, res.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link.URL, "https://api.test/files/"))
	assert.Zero(t, fx.access.calls)

	download, err := fx.svc.OpenSigned(strings.TrimPrefix(link.URL, "https://api.test/files/"))
	require.NoError(t, err)
	defer download.File.Close()
	body, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
	assert.Contains(t, download.ContentType, "text/plain")

	_, err = fx.svc.OpenSigned("bogus.token")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestResourceServiceUploadRejections(t *testing.T) {
	fx := newResourceFixture(t, 8)
	ctx := context.Background()
	actor := models.Principal{UserID: "admin"}

	_, err := fx.svc.Upload(ctx, models.CreateResourceRequest{Title: "Big"}, textUpload("big.txt", "0123456789"), actor, ClientMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	lying := textUpload("big.txt", "0123456789")
	lying.Size = 4
	_, err = fx.svc.Upload(ctx, models.CreateResourceRequest{Title: "Big"}, lying, actor, ClientMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	png := ResourceUpload{Filename: "x.png", Size: 4, ContentType: "image/png", Content: bytes.NewReader([]byte("abcd"))}
	_, err = fx.svc.Upload(ctx, models.CreateResourceRequest{Title: "Image"}, png, actor, ClientMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = fx.svc.Upload(ctx, models.CreateResourceRequest{}, textUpload("a.txt", "abc"), actor, ClientMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.repo.items)
}

func TestResourceServiceCourseFilesRequireAccess(t *testing.T) {
	fx := newResourceFixture(t, 1024)
	ctx := context.Background()
	courseID := "c1"

	res, err := fx.svc.Upload(ctx, models.CreateResourceRequest{Title: "Slides", CourseID: &courseID}, textUpload("slides.txt", "slides"), models.Principal{UserID: "admin"}, ClientMeta{})
	require.NoError(t, err)

	_, err = fx.svc.ResolveDownloadURL(ctx, models.Principal{UserID: "u2", Role: models.RoleStudent}, res.ID)
	assert.Equal(t, appErrors.ErrNotEntitled.Code, appErrors.FromError(err).Code)

	fx.access.decision = models.AccessDecision{Granted: true, Reason: models.AccessReasonGranted}
	_, err = fx.svc.ResolveDownloadURL(ctx, models.Principal{UserID: "u1", Role: models.RoleStudent}, res.ID)
	require.NoError(t, err)

	_, err = fx.svc.ResolveDownloadURL(ctx, models.Principal{UserID: "staff", Role: models.RoleInstructor}, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fx.access.calls)
}

func TestResourceServiceExternalAndUnknownURIs(t *testing.T) {
	fx := newResourceFixture(t, 1024)
	fx.repo.items["ext"] = &models.Resource{ID: "ext", StorageURI: "https://cdn.example.com/a.pdf", FileName: "a.pdf"}
	fx.repo.items["odd"] = &models.Resource{ID: "odd", StorageURI: "gs://bucket/a.pdf"}

	link, err := fx.svc.ResolveDownloadURL(context.Background(), models.Principal{UserID: "u1"}, "ext")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.pdf", link.URL)

	_, err = fx.svc.ResolveDownloadURL(context.Background(), models.Principal{UserID: "u1"}, "odd")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestResourceServiceUpdateAndDelete(t *testing.T) {
	fx := newResourceFixture(t, 1024)
	ctx := context.Background()
	actor := models.Principal{UserID: "admin"}

	res, err := fx.svc.Upload(ctx, models.CreateResourceRequest{Title: "Notes"}, textUpload("notes.txt", "notes"), actor, ClientMeta{})
	require.NoError(t, err)
	key, ok := storage.LocalKey(res.StorageURI)
	require.True(t, ok)
	require.True(t, fx.store.Exists(key))

	title := "Week 1 notes"
	empty := ""
	updated, err := fx.svc.Update(ctx, res.ID, models.UpdateResourceRequest{Title: &title, CourseID: &empty})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Nil(t, updated.CourseID)

	require.NoError(t, fx.svc.Delete(ctx, res.ID, actor, ClientMeta{}))
	assert.False(t, fx.store.Exists(key))
	assert.Equal(t, models.AuditActionResourceDelete, fx.repo.audit[len(fx.repo.audit)-1].Action)

	err = fx.svc.Delete(ctx, res.ID, actor, ClientMeta{})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
