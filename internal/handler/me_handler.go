package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coursemart-api/internal/models"
	"github.com/noah-isme/coursemart-api/internal/service"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
	"github.com/noah-isme/coursemart-api/pkg/response"
)

type profileService interface {
	Profile(ctx context.Context, principal models.Principal) (*models.User, error)
	UpdateProfile(ctx context.Context, principal models.Principal, req service.UpdateProfileRequest) (*models.User, error)
}

type ownedCourseLister interface {
	MyCourses(ctx context.Context, principal models.Principal) ([]models.OwnedCourse, error)
}

// MeHandler serves the caller's own profile and library.
type MeHandler struct {
	profiles profileService
	library  ownedCourseLister
}

// NewMeHandler constructs a MeHandler.
func NewMeHandler(profiles profileService, library ownedCourseLister) *MeHandler {
	return &MeHandler{profiles: profiles, library: library}
}

// Profile godoc
// @Summary Current user's profile
// @Tags Me
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Security BearerAuth
// @Router /me/profile [get]
func (h *MeHandler) Profile(c *gin.Context) {
	user, err := h.profiles.Profile(c.Request.Context(), principalFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// UpdateProfile godoc
// @Summary Update the current user's profile
// @Tags Me
// @Accept json
// @Produce json
// @Param payload body service.UpdateProfileRequest true "Profile"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /me/profile [put]
func (h *MeHandler) UpdateProfile(c *gin.Context) {
	var req service.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid profile payload"))
		return
	}
	user, err := h.profiles.UpdateProfile(c.Request.Context(), principalFrom(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Courses godoc
// @Summary Courses owned by the current user
// @Tags Me
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Security BearerAuth
// @Router /me/courses [get]
func (h *MeHandler) Courses(c *gin.Context) {
	owned, err := h.library.MyCourses(c.Request.Context(), principalFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, owned, nil)
}
