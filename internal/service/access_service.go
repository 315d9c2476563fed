package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/coursemart-api/internal/models"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
)

// Redirect targets handed to denied callers.
const (
	RedirectLogin   = "/login"
	RedirectCatalog = "/courses"
)

type accessCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type accessEntitlementReader interface {
	Find(ctx context.Context, userID, courseID string) (*models.Entitlement, error)
}

type videoResolver interface {
	Resolve(subjectID, uri string) (string, error)
}

// AccessService decides whether a principal may view a course's protected content.
// It reads the store on every call; nothing about entitlements is cached.
type AccessService struct {
	courses      accessCourseReader
	entitlements accessEntitlementReader
	videos       videoResolver
	metrics      *MetricsService
	logger       *zap.Logger
}

// NewAccessService wires the access predicate.
func NewAccessService(courses accessCourseReader, entitlements accessEntitlementReader, videos videoResolver, metrics *MetricsService, logger *zap.Logger) *AccessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{courses: courses, entitlements: entitlements, videos: videos, metrics: metrics, logger: logger}
}

// Check runs the access predicate. A store failure is returned as ErrAccessUnavailable and
// is never reported as a denial.
func (s *AccessService) Check(ctx context.Context, principal models.Principal, courseID string) (models.AccessDecision, error) {
	decision, _, _, err := s.evaluate(ctx, principal, courseID)
	return decision, err
}

// Player returns the full course for an entitled principal with every lesson video resolved
// to a download link. Denials come back as the decision plus its matching error.
func (s *AccessService) Player(ctx context.Context, principal models.Principal, courseID string) (*models.PlayerView, models.AccessDecision, error) {
	decision, course, entitlement, err := s.evaluate(ctx, principal, courseID)
	if err != nil {
		return nil, decision, err
	}
	if !decision.Granted {
		return nil, decision, DenialError(decision)
	}

	curriculum := make(models.Curriculum, len(course.Curriculum))
	for i, section := range course.Curriculum {
		lessons := make([]models.Lesson, len(section.Lessons))
		for j, lesson := range section.Lessons {
			if lesson.VideoRef != "" && s.videos != nil {
				url, err := s.videos.Resolve(principal.UserID, lesson.VideoRef)
				if err != nil {
					s.logger.Warn("unresolvable lesson video", zap.String("course_id", course.ID), zap.String("lesson_id", lesson.ID), zap.Error(err))
					url = ""
				}
				lesson.VideoRef = url
			}
			lessons[j] = lesson
		}
		section.Lessons = lessons
		curriculum[i] = section
	}
	course.Curriculum = curriculum

	return &models.PlayerView{Course: *course, Entitlement: entitlement}, decision, nil
}

func (s *AccessService) evaluate(ctx context.Context, principal models.Principal, courseID string) (models.AccessDecision, *models.Course, *models.Entitlement, error) {
	if !principal.Authenticated() {
		return s.decide(models.AccessDecision{Reason: models.AccessReasonUnauthenticated, Redirect: RedirectLogin}), nil, nil, nil
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.decide(models.AccessDecision{Reason: models.AccessReasonCourseNotFound, Redirect: RedirectCatalog}), nil, nil, nil
		}
		return s.unavailable(err, principal, courseID)
	}

	entitlement, err := s.entitlements.Find(ctx, principal.UserID, course.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.decide(models.AccessDecision{Reason: models.AccessReasonNotEntitled, Redirect: CourseDetailPath(course.ID)}), course, nil, nil
		}
		return s.unavailable(err, principal, courseID)
	}

	return s.decide(models.AccessDecision{Granted: true, Reason: models.AccessReasonGranted}), course, entitlement, nil
}

func (s *AccessService) decide(decision models.AccessDecision) models.AccessDecision {
	s.metrics.RecordAccessCheck(decision.Reason)
	return decision
}

func (s *AccessService) unavailable(err error, principal models.Principal, courseID string) (models.AccessDecision, *models.Course, *models.Entitlement, error) {
	s.metrics.RecordAccessCheck("error")
	s.logger.Error("access check failed", zap.String("user_id", principal.UserID), zap.String("course_id", courseID), zap.Error(err))
	return models.AccessDecision{}, nil, nil, appErrors.Wrap(err, appErrors.ErrAccessUnavailable.Code, appErrors.ErrAccessUnavailable.Status, appErrors.ErrAccessUnavailable.Message)
}

// CourseDetailPath is where a caller can buy the course.
func CourseDetailPath(courseID string) string {
	return "/courses/" + courseID
}

// DenialError maps a denied decision onto the API error returned to the caller.
func DenialError(decision models.AccessDecision) *appErrors.Error {
	switch decision.Reason {
	case models.AccessReasonUnauthenticated:
		return appErrors.Clone(appErrors.ErrUnauthorized, "sign in to watch this course")
	case models.AccessReasonCourseNotFound:
		return appErrors.Clone(appErrors.ErrCourseNotFound, appErrors.ErrCourseNotFound.Message)
	default:
		return appErrors.Clone(appErrors.ErrNotEntitled, appErrors.ErrNotEntitled.Message)
	}
}
