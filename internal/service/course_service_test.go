package service

import (
	"context"
	"database/sql"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coursemart-api/internal/models"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
)

type mockCourseRepo struct {
	courses   map[string]*models.Course
	listCalls int
	nextID    int
	audit     []*models.AuditLog
}

func newMockCourseRepo(courses ...models.Course) *mockCourseRepo {
	repo := &mockCourseRepo{courses: map[string]*models.Course{}}
	for i := range courses {
		course := courses[i]
		repo.courses[course.ID] = &course
	}
	return repo
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	course, ok := m.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *course
	copy.Curriculum = cloneCurriculum(course.Curriculum)
	return &copy, nil
}

func (m *mockCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	m.listCalls++
	var out []models.Course
	for _, course := range m.courses {
		if filter.Category != "" && course.Category != filter.Category {
			continue
		}
		out = append(out, *course)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *mockCourseRepo) Create(ctx context.Context, course *models.Course) error {
	m.nextID++
	course.ID = "new-" + string(rune('0'+m.nextID))
	copy := *course
	m.courses[course.ID] = &copy
	return nil
}

func (m *mockCourseRepo) Update(ctx context.Context, course *models.Course) error {
	if _, ok := m.courses[course.ID]; !ok {
		return sql.ErrNoRows
	}
	copy := *course
	copy.Curriculum = cloneCurriculum(course.Curriculum)
	m.courses[course.ID] = &copy
	return nil
}

func (m *mockCourseRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.courses[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.courses, id)
	return nil
}

func (m *mockCourseRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.audit = append(m.audit, log)
	return nil
}

func newCourseFixture() (*CourseService, *mockCourseRepo, *memoryCache) {
	repo := newMockCourseRepo(models.Course{
		ID:       "c1",
		Title:    "Go",
		Price:    59.99,
		Currency: "USD",
		Category: "programming",
		Curriculum: models.Curriculum{{
			ID:    "s1",
			Title: "Basics",
			Lessons: []models.Lesson{
				{ID: "l1", Title: "Intro", VideoRef: "local://videos/intro.mp4"},
				{ID: "l2", Title: "Types", VideoRef: "https://cdn.example.com/types.mp4"},
			},
		}},
	})
	store := newMemoryCache()
	cacheSvc := NewCacheService(store, NewMetricsService(), 0, nil)
	svc := NewCourseService(repo, repo, cacheSvc, nil, nil, nil, "ngn")
	return svc, repo, store
}

func TestCourseServiceListHidesVideosAndCaches(t *testing.T) {
	svc, repo, store := newCourseFixture()

	courses, page, err := svc.List(context.Background(), models.CourseFilter{})
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, 1, page.TotalCount)
	assert.Equal(t, 20, page.PageSize)
	for _, lesson := range courses[0].Curriculum[0].Lessons {
		assert.Empty(t, lesson.VideoRef)
	}

	_, _, err = svc.List(context.Background(), models.CourseFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls)
	assert.Equal(t, 1, store.size())
}

func TestCourseServiceGetPublicView(t *testing.T) {
	svc, _, _ := newCourseFixture()

	course, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, course.Curriculum[0].Lessons[0].VideoRef)

	full, err := svc.Manage(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "local://videos/intro.mp4", full.Curriculum[0].Lessons[0].VideoRef)

	_, err = svc.Get(context.Background(), "missing")
	assert.Equal(t, appErrors.ErrCourseNotFound.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceCreateSanitizes(t *testing.T) {
	svc, repo, store := newCourseFixture()
	_, _, err := svc.List(context.Background(), models.CourseFilter{})
	require.NoError(t, err)

	course, err := svc.Create(context.Background(), models.CreateCourseRequest{
		Title:       "<b>Rust</b>",
		Description: `<p>Systems</p><script>alert(1)</script>`,
		Price:       10,
	}, models.Principal{UserID: "admin"}, ClientMeta{IP: "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "Rust", course.Title)
	assert.Equal(t, "<p>Systems</p>", course.Description)
	assert.Equal(t, "NGN", course.Currency)
	assert.NotNil(t, course.Curriculum)
	assert.Zero(t, store.size())
	require.Len(t, repo.audit, 1)
	assert.Equal(t, models.AuditActionCourseCreate, repo.audit[0].Action)

	_, err = svc.Create(context.Background(), models.CreateCourseRequest{Title: "Free", Price: -1}, models.Principal{UserID: "admin"}, ClientMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceUpdateMerges(t *testing.T) {
	svc, repo, _ := newCourseFixture()
	price := 79.0

	course, err := svc.Update(context.Background(), "c1", models.UpdateCourseRequest{Price: &price}, models.Principal{UserID: "admin"}, ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, 79.0, course.Price)
	assert.Equal(t, "Go", course.Title)
	assert.Len(t, course.Curriculum[0].Lessons, 2)
	assert.Equal(t, 79.0, repo.courses["c1"].Price)

	_, err = svc.Update(context.Background(), "missing", models.UpdateCourseRequest{Price: &price}, models.Principal{UserID: "admin"}, ClientMeta{})
	assert.Equal(t, appErrors.ErrCourseNotFound.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceCurriculumEditing(t *testing.T) {
	svc, repo, _ := newCourseFixture()
	actor := models.Principal{UserID: "admin"}

	course, err := svc.AddSection(context.Background(), "c1", models.SectionRequest{Title: "Advanced"}, actor, ClientMeta{})
	require.NoError(t, err)
	require.Len(t, course.Curriculum, 2)
	sectionID := course.Curriculum[1].ID
	assert.NotEmpty(t, sectionID)

	course, err = svc.AddLesson(context.Background(), "c1", sectionID, models.LessonRequest{Title: "Generics", VideoRef: "local://videos/generics.mp4"}, actor, ClientMeta{})
	require.NoError(t, err)
	lesson := course.Curriculum[1].Lessons[0]
	assert.Len(t, lesson.ID, 36)
	assert.NotEqual(t, lesson.ID, sectionID)

	_, err = svc.AddLesson(context.Background(), "c1", "nope", models.LessonRequest{Title: "x"}, actor, ClientMeta{})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.AddLesson(context.Background(), "c1", sectionID, models.LessonRequest{Title: "x", VideoRef: "ftp://host/file"}, actor, ClientMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	course, err = svc.DeleteLesson(context.Background(), "c1", "l1", actor, ClientMeta{})
	require.NoError(t, err)
	require.Len(t, course.Curriculum[0].Lessons, 1)
	assert.Equal(t, "l2", repo.courses["c1"].Curriculum[0].Lessons[0].ID)

	_, err = svc.DeleteLesson(context.Background(), "c1", "l1", actor, ClientMeta{})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceDelete(t *testing.T) {
	svc, repo, store := newCourseFixture()
	_, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 1, store.size())

	require.NoError(t, svc.Delete(context.Background(), "c1", models.Principal{UserID: "admin"}, ClientMeta{}))
	assert.Empty(t, repo.courses)
	assert.Zero(t, store.size())

	err = svc.Delete(context.Background(), "c1", models.Principal{UserID: "admin"}, ClientMeta{})
	assert.Equal(t, appErrors.ErrCourseNotFound.Code, appErrors.FromError(err).Code)
}
