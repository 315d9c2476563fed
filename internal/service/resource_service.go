package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/coursemart-api/internal/models"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
	"github.com/noah-isme/coursemart-api/pkg/sanitize"
	"github.com/noah-isme/coursemart-api/pkg/storage"
)

type resourceStore interface {
	Create(ctx context.Context, res *models.Resource) error
	FindByID(ctx context.Context, id string) (*models.Resource, error)
	List(ctx context.Context, filter models.ResourceFilter) ([]models.Resource, int, error)
	Update(ctx context.Context, res *models.Resource) error
	Delete(ctx context.Context, id string) error
}

type objectStorage interface {
	SaveStream(key string, r io.Reader) (int64, error)
	Open(key string) (*os.File, error)
	Delete(key string) error
}

type downloadTokenParser interface {
	Parse(token string) (subjectID, key string, err error)
}

type courseAccessChecker interface {
	Check(ctx context.Context, principal models.Principal, courseID string) (models.AccessDecision, error)
}

// ResourceUpload carries an uploaded file stream and its client supplied metadata.
type ResourceUpload struct {
	Filename    string
	Size        int64
	ContentType string
	Content     io.ReadSeeker
}

// FileDownload is an opened object ready to be streamed.
type FileDownload struct {
	File        *os.File
	FileName    string
	ContentType string
	Size        int64
	ModTime     time.Time
}

// ResourceConfig bounds uploads.
type ResourceConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
}

// ResourceService manages downloadable files and their metadata.
type ResourceService struct {
	repo      resourceStore
	storage   objectStorage
	resolver  videoResolver
	tokens    downloadTokenParser
	access    courseAccessChecker
	audit     auditWriter
	validator *validator.Validate
	sanitizer *sanitize.Sanitizer
	logger    *zap.Logger
	cfg       ResourceConfig
	mimeSet   map[string]struct{}
	now       func() time.Time
}

// NewResourceService constructs a ResourceService.
func NewResourceService(repo resourceStore, store objectStorage, resolver videoResolver, tokens downloadTokenParser, access courseAccessChecker, audit auditWriter, validate *validator.Validate, sanitizer *sanitize.Sanitizer, logger *zap.Logger, cfg ResourceConfig) *ResourceService {
	if validate == nil {
		validate = validator.New()
	}
	if sanitizer == nil {
		sanitizer = sanitize.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 50 * 1024 * 1024
	}
	mimeSet := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mt := range cfg.AllowedMIMEs {
		mimeSet[strings.ToLower(strings.TrimSpace(mt))] = struct{}{}
	}
	return &ResourceService{
		repo:      repo,
		storage:   store,
		resolver:  resolver,
		tokens:    tokens,
		access:    access,
		audit:     audit,
		validator: validate,
		sanitizer: sanitizer,
		logger:    logger,
		cfg:       cfg,
		mimeSet:   mimeSet,
		now:       time.Now,
	}
}

// Upload stores the file and records its metadata.
func (s *ResourceService) Upload(ctx context.Context, req models.CreateResourceRequest, upload ResourceUpload, actor models.Principal, meta ClientMeta) (*models.Resource, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resource payload")
	}
	if upload.Content == nil || upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	contentType, err := detectContentType(upload)
	if err != nil {
		return nil, err
	}
	if len(s.mimeSet) > 0 {
		if _, ok := s.mimeSet[contentType]; !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "mime type not allowed")
		}
	}

	key := storage.ObjectKey(s.now(), upload.Filename)
	written, err := s.storage.SaveStream(key, io.LimitReader(upload.Content, s.cfg.MaxFileSize+1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}
	if written > s.cfg.MaxFileSize {
		_ = s.storage.Delete(key)
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}

	res := &models.Resource{
		CourseID:    normalizeOptional(req.CourseID),
		Title:       s.sanitizer.Text(req.Title),
		Description: s.sanitizer.HTML(req.Description),
		StorageURI:  storage.LocalURI(key),
		FileName:    storage.SanitizeFilename(upload.Filename),
		ContentType: contentType,
		SizeBytes:   written,
		CreatedBy:   actor.UserID,
	}
	if err := s.repo.Create(ctx, res); err != nil {
		_ = s.storage.Delete(key)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save resource")
	}

	s.record(ctx, actor, models.AuditActionResourceCreate, res.ID, meta)
	return res, nil
}

// List returns resources matching the filter.
func (s *ResourceService) List(ctx context.Context, filter models.ResourceFilter) ([]models.Resource, *models.Pagination, error) {
	pagination := paginate(filter.Page, filter.PageSize, 0)
	filter.Page, filter.PageSize = pagination.Page, pagination.PageSize
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list resources")
	}
	pagination.TotalCount = total
	return items, pagination, nil
}

// Get returns resource metadata.
func (s *ResourceService) Get(ctx context.Context, id string) (*models.Resource, error) {
	res, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "resource not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load resource")
	}
	return res, nil
}

// Update edits resource metadata.
func (s *ResourceService) Update(ctx context.Context, id string, req models.UpdateResourceRequest) (*models.Resource, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resource payload")
	}
	res, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.CourseID != nil {
		res.CourseID = normalizeOptional(req.CourseID)
	}
	if req.Title != nil {
		title := s.sanitizer.Text(*req.Title)
		if title == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "title cannot be empty")
		}
		res.Title = title
	}
	if req.Description != nil {
		res.Description = s.sanitizer.HTML(*req.Description)
	}
	if err := s.repo.Update(ctx, res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "resource not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update resource")
	}
	return res, nil
}

// Delete removes the metadata and the stored file.
func (s *ResourceService) Delete(ctx context.Context, id string, actor models.Principal, meta ClientMeta) error {
	res, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "resource not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete resource")
	}
	if key, ok := storage.LocalKey(res.StorageURI); ok {
		if err := s.storage.Delete(key); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove resource file", zap.String("resource_id", id), zap.Error(err))
		}
	}
	s.record(ctx, actor, models.AuditActionResourceDelete, id, meta)
	return nil
}

// ResolveDownloadURL returns a link for the resource. Course attached files require access
// to that course unless the principal is staff.
func (s *ResourceService) ResolveDownloadURL(ctx context.Context, principal models.Principal, id string) (*models.ResourceDownload, error) {
	res, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.CourseID != nil && !principal.Role.IsStaff() {
		decision, err := s.access.Check(ctx, principal, *res.CourseID)
		if err != nil {
			return nil, err
		}
		if !decision.Granted {
			return nil, DenialError(decision)
		}
	}

	url, err := s.resolver.Resolve(res.ID, res.StorageURI)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedScheme) {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "resource has an unsupported storage uri")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
	}
	return &models.ResourceDownload{ResourceID: res.ID, URL: url, FileName: res.FileName}, nil
}

// OpenSigned opens the object named by a signed download token.
func (s *ResourceService) OpenSigned(token string) (*FileDownload, error) {
	_, key, err := s.tokens.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "download link expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid download link")
	}

	file, err := s.storage.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat file")
	}

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &FileDownload{
		File:        file,
		FileName:    path.Base(key),
		ContentType: contentType,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
	}, nil
}

func (s *ResourceService) record(ctx context.Context, actor models.Principal, action, resourceID string, meta ClientMeta) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "resources",
		ResourceID: &resourceID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if actor.UserID != "" {
		entry.UserID = &actor.UserID
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record resource audit log", zap.String("action", action), zap.Error(err))
	}
}

func detectContentType(upload ResourceUpload) (string, error) {
	if ct := strings.TrimSpace(upload.ContentType); ct != "" && ct != "application/octet-stream" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			return strings.ToLower(mediaType), nil
		}
	}
	header := make([]byte, 512)
	n, err := upload.Content.Read(header)
	if err != nil && err != io.EOF {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	if n == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(header[:n]))
	return strings.ToLower(mediaType), nil
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
