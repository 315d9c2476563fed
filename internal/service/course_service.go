package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/coursemart-api/internal/models"
	"github.com/noah-isme/coursemart-api/pkg/cache"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
	"github.com/noah-isme/coursemart-api/pkg/sanitize"
)

type courseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, id string) error
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type catalogPage struct {
	Courses []models.Course    `json:"courses"`
	Page    *models.Pagination `json:"page"`
}

// CourseService owns the catalog. Public reads are cached and never expose video references.
type CourseService struct {
	repo            courseRepository
	audit           auditWriter
	cache           *CacheService
	validator       *validator.Validate
	sanitizer       *sanitize.Sanitizer
	logger          *zap.Logger
	defaultCurrency string
}

// NewCourseService constructs a CourseService.
func NewCourseService(repo courseRepository, audit auditWriter, cacheSvc *CacheService, validate *validator.Validate, sanitizer *sanitize.Sanitizer, logger *zap.Logger, defaultCurrency string) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if sanitizer == nil {
		sanitizer = sanitize.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &CourseService{
		repo:            repo,
		audit:           audit,
		cache:           cacheSvc,
		validator:       validate,
		sanitizer:       sanitizer,
		logger:          logger,
		defaultCurrency: strings.ToUpper(defaultCurrency),
	}
}

// List returns the public catalog page for the filter.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	pagination := paginate(filter.Page, filter.PageSize, 0)
	filter.Page, filter.PageSize = pagination.Page, pagination.PageSize

	key := catalogListKey(filter)
	var cached catalogPage
	if s.cache.Get(ctx, key, &cached) {
		return cached.Courses, cached.Page, nil
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	public := make([]models.Course, len(courses))
	for i, course := range courses {
		public[i] = course.Public()
	}
	pagination.TotalCount = total

	s.cache.Set(ctx, key, catalogPage{Courses: public, Page: pagination}, 0)
	return public, pagination, nil
}

// Get returns the public detail view of a course.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	key := cache.Key("courses", "detail", id)
	var cached models.Course
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	course, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	public := course.Public()
	s.cache.Set(ctx, key, public, 0)
	return &public, nil
}

// Manage returns the full course, video references included, for editors.
func (s *CourseService) Manage(ctx context.Context, id string) (*models.Course, error) {
	return s.load(ctx, id)
}

// Create adds a course to the catalog.
func (s *CourseService) Create(ctx context.Context, req models.CreateCourseRequest, actor models.Principal, meta ClientMeta) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course := &models.Course{
		Title:       s.sanitizer.Text(req.Title),
		Description: s.sanitizer.HTML(req.Description),
		Price:       req.Price,
		Currency:    s.currency(req.Currency),
		Category:    s.sanitizer.Text(req.Category),
		Difficulty:  strings.ToLower(req.Difficulty),
		Curriculum:  models.Curriculum{},
		Instructor:  s.instructor(req.Instructor),
	}
	if course.Title == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title is required")
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	s.invalidate(ctx)
	s.record(ctx, actor, models.AuditActionCourseCreate, course.ID, nil, course, meta)
	return course, nil
}

// Update merges the provided fields into the course.
func (s *CourseService) Update(ctx context.Context, id string, req models.UpdateCourseRequest, actor models.Principal, meta ClientMeta) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *course

	if req.Title != nil {
		title := s.sanitizer.Text(*req.Title)
		if title == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "title cannot be empty")
		}
		course.Title = title
	}
	if req.Description != nil {
		course.Description = s.sanitizer.HTML(*req.Description)
	}
	if req.Price != nil {
		course.Price = *req.Price
	}
	if req.Currency != nil {
		course.Currency = s.currency(*req.Currency)
	}
	if req.Category != nil {
		course.Category = s.sanitizer.Text(*req.Category)
	}
	if req.Difficulty != nil {
		course.Difficulty = strings.ToLower(*req.Difficulty)
	}
	if req.Instructor != nil {
		course.Instructor = s.instructor(*req.Instructor)
	}

	if err := s.save(ctx, course); err != nil {
		return nil, err
	}
	s.record(ctx, actor, models.AuditActionCourseUpdate, course.ID, &before, course, meta)
	return course, nil
}

// Delete removes a course. Entitlements and transactions pointing at it are kept.
func (s *CourseService) Delete(ctx context.Context, id string, actor models.Principal, meta ClientMeta) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrCourseNotFound, appErrors.ErrCourseNotFound.Message)
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.invalidate(ctx)
	s.record(ctx, actor, models.AuditActionCourseDelete, id, nil, nil, meta)
	return nil
}

// AddSection appends an empty section to the curriculum.
func (s *CourseService) AddSection(ctx context.Context, courseID string, req models.SectionRequest, actor models.Principal, meta ClientMeta) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid section payload")
	}
	course, err := s.load(ctx, courseID)
	if err != nil {
		return nil, err
	}
	before := *course

	course.Curriculum = append(course.Curriculum, models.Section{
		ID:      uuid.NewString(),
		Title:   s.sanitizer.Text(req.Title),
		Lessons: []models.Lesson{},
	})
	if err := s.save(ctx, course); err != nil {
		return nil, err
	}
	s.record(ctx, actor, models.AuditActionCourseUpdate, course.ID, &before, course, meta)
	return course, nil
}

// AddLesson appends a lesson to a section of the curriculum.
func (s *CourseService) AddLesson(ctx context.Context, courseID, sectionID string, req models.LessonRequest, actor models.Principal, meta ClientMeta) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson payload")
	}
	videoRef := strings.TrimSpace(req.VideoRef)
	if videoRef != "" && !supportedVideoRef(videoRef) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "video_ref must be a local:// or http(s):// reference")
	}

	course, err := s.load(ctx, courseID)
	if err != nil {
		return nil, err
	}
	before := *course
	before.Curriculum = cloneCurriculum(course.Curriculum)

	idx := -1
	for i, section := range course.Curriculum {
		if section.ID == sectionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
	}

	course.Curriculum[idx].Lessons = append(course.Curriculum[idx].Lessons, models.Lesson{
		ID:       uuid.NewString(),
		Title:    s.sanitizer.Text(req.Title),
		Duration: s.sanitizer.Text(req.Duration),
		VideoRef: videoRef,
	})
	if err := s.save(ctx, course); err != nil {
		return nil, err
	}
	s.record(ctx, actor, models.AuditActionCourseUpdate, course.ID, &before, course, meta)
	return course, nil
}

// DeleteLesson removes a lesson wherever it sits in the curriculum.
func (s *CourseService) DeleteLesson(ctx context.Context, courseID, lessonID string, actor models.Principal, meta ClientMeta) (*models.Course, error) {
	course, err := s.load(ctx, courseID)
	if err != nil {
		return nil, err
	}
	before := *course
	before.Curriculum = cloneCurriculum(course.Curriculum)

	removed := false
	for i, section := range course.Curriculum {
		kept := make([]models.Lesson, 0, len(section.Lessons))
		for _, lesson := range section.Lessons {
			if lesson.ID == lessonID {
				removed = true
				continue
			}
			kept = append(kept, lesson)
		}
		course.Curriculum[i].Lessons = kept
	}
	if !removed {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
	}

	if err := s.save(ctx, course); err != nil {
		return nil, err
	}
	s.record(ctx, actor, models.AuditActionCourseUpdate, course.ID, &before, course, meta)
	return course, nil
}

func (s *CourseService) load(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrCourseNotFound, appErrors.ErrCourseNotFound.Message)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *CourseService) save(ctx context.Context, course *models.Course) error {
	if err := s.repo.Update(ctx, course); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrCourseNotFound, appErrors.ErrCourseNotFound.Message)
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	s.invalidate(ctx)
	return nil
}

func (s *CourseService) invalidate(ctx context.Context) {
	s.cache.Invalidate(ctx, cache.Key("courses")+":*")
}

func (s *CourseService) currency(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return s.defaultCurrency
	}
	return raw
}

func (s *CourseService) instructor(in models.Instructor) models.Instructor {
	return models.Instructor{
		UserID:    strings.TrimSpace(in.UserID),
		Name:      s.sanitizer.Text(in.Name),
		Title:     s.sanitizer.Text(in.Title),
		AvatarURL: strings.TrimSpace(in.AvatarURL),
	}
}

func (s *CourseService) record(ctx context.Context, actor models.Principal, action, courseID string, before, after *models.Course, meta ClientMeta) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "courses",
		ResourceID: &courseID,
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
		s.logger.Warn("failed to record course audit log", zap.String("action", action), zap.Error(err))
	}
}

func catalogListKey(filter models.CourseFilter) string {
	return cache.Key("courses", "list", fmt.Sprintf("%s|%s|%s|%d|%d|%s|%s",
		strings.ToLower(filter.Category),
		strings.ToLower(filter.Difficulty),
		strings.ToLower(filter.Search),
		filter.Page,
		filter.PageSize,
		filter.SortBy,
		filter.SortOrder,
	))
}

func supportedVideoRef(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "local://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}

func cloneCurriculum(in models.Curriculum) models.Curriculum {
	out := make(models.Curriculum, len(in))
	for i, section := range in {
		section.Lessons = append([]models.Lesson(nil), section.Lessons...)
		out[i] = section
	}
	return out
}
