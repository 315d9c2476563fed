package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coursemart-api/internal/models"
	"github.com/noah-isme/coursemart-api/internal/service"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
	"github.com/noah-isme/coursemart-api/pkg/response"
)

type catalogService interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Course, error)
	Manage(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, req models.CreateCourseRequest, actor models.Principal, meta service.ClientMeta) (*models.Course, error)
	Update(ctx context.Context, id string, req models.UpdateCourseRequest, actor models.Principal, meta service.ClientMeta) (*models.Course, error)
	Delete(ctx context.Context, id string, actor models.Principal, meta service.ClientMeta) error
	AddSection(ctx context.Context, courseID string, req models.SectionRequest, actor models.Principal, meta service.ClientMeta) (*models.Course, error)
	AddLesson(ctx context.Context, courseID, sectionID string, req models.LessonRequest, actor models.Principal, meta service.ClientMeta) (*models.Course, error)
	DeleteLesson(ctx context.Context, courseID, lessonID string, actor models.Principal, meta service.ClientMeta) (*models.Course, error)
}

type accessService interface {
	Check(ctx context.Context, principal models.Principal, courseID string) (models.AccessDecision, error)
	Player(ctx context.Context, principal models.Principal, courseID string) (*models.PlayerView, models.AccessDecision, error)
}

// CourseHandler serves the catalog, the access check and the course player.
type CourseHandler struct {
	catalog catalogService
	access  accessService
}

// NewCourseHandler constructs a CourseHandler.
func NewCourseHandler(catalog catalogService, access accessService) *CourseHandler {
	return &CourseHandler{catalog: catalog, access: access}
}

// List godoc
// @Summary Browse the catalog
// @Tags Courses
// @Produce json
// @Param category query string false "Category"
// @Param difficulty query string false "Difficulty"
// @Param search query string false "Search title or description"
// @Param sort_by query string false "created_at|title|price|rating|students"
// @Param sort_order query string false "asc|desc"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	filter := models.CourseFilter{
		Category:   strings.TrimSpace(c.Query("category")),
		Difficulty: strings.TrimSpace(c.Query("difficulty")),
		Search:     strings.TrimSpace(c.Query("search")),
		Page:       queryInt(c, "page"),
		PageSize:   queryInt(c, "page_size"),
		SortBy:     c.Query("sort_by"),
		SortOrder:  c.Query("sort_order"),
	}
	courses, pagination, err := h.catalog.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// Get godoc
// @Summary Course detail
// @Description Public view. Lesson video references are never included.
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Access godoc
// @Summary Check whether the caller may watch a course
// @Description Anonymous callers are denied with reason unauthenticated. A store failure answers 503, never a denial.
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /courses/{id}/access [get]
func (h *CourseHandler) Access(c *gin.Context) {
	decision, err := h.access.Check(c.Request.Context(), principalFrom(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// Player godoc
// @Summary Course player
// @Description Full curriculum with signed video links for entitled callers. Denials carry the redirect target in meta.
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /courses/{id}/player [get]
func (h *CourseHandler) Player(c *gin.Context) {
	view, decision, err := h.access.Player(c.Request.Context(), principalFrom(c), c.Param("id"))
	if err != nil {
		if decision.Reason != "" && !decision.Granted {
			response.ErrorWithMeta(c, err, redirectMeta(decision))
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Manage godoc
// @Summary Course with lesson video references, for editors
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/courses/{id} [get]
func (h *CourseHandler) Manage(c *gin.Context) {
	course, err := h.catalog.Manage(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Create godoc
// @Summary Create a course
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body models.CreateCourseRequest true "Course"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	var req models.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course payload"))
		return
	}
	course, err := h.catalog.Create(c.Request.Context(), req, principalFrom(c), clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Update godoc
// @Summary Update a course
// @Description Only the provided fields change.
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body models.UpdateCourseRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/courses/{id} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	var req models.UpdateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course payload"))
		return
	}
	course, err := h.catalog.Update(c.Request.Context(), c.Param("id"), req, principalFrom(c), clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Delete godoc
// @Summary Delete a course
// @Description Entitlements and transactions that reference the course are kept.
// @Tags Courses
// @Param id path string true "Course ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/courses/{id} [delete]
func (h *CourseHandler) Delete(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), c.Param("id"), principalFrom(c), clientMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddSection godoc
// @Summary Append a curriculum section
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body models.SectionRequest true "Section"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/courses/{id}/sections [post]
func (h *CourseHandler) AddSection(c *gin.Context) {
	var req models.SectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid section payload"))
		return
	}
	course, err := h.catalog.AddSection(c.Request.Context(), c.Param("id"), req, principalFrom(c), clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// AddLesson godoc
// @Summary Append a lesson to a section
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param sectionId path string true "Section ID"
// @Param payload body models.LessonRequest true "Lesson"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/courses/{id}/sections/{sectionId}/lessons [post]
func (h *CourseHandler) AddLesson(c *gin.Context) {
	var req models.LessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid lesson payload"))
		return
	}
	course, err := h.catalog.AddLesson(c.Request.Context(), c.Param("id"), c.Param("sectionId"), req, principalFrom(c), clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// DeleteLesson godoc
// @Summary Remove a lesson
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Param lessonId path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/courses/{id}/lessons/{lessonId} [delete]
func (h *CourseHandler) DeleteLesson(c *gin.Context) {
	course, err := h.catalog.DeleteLesson(c.Request.Context(), c.Param("id"), c.Param("lessonId"), principalFrom(c), clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}
