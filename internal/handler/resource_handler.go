package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coursemart-api/internal/models"
	"github.com/noah-isme/coursemart-api/internal/service"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
	"github.com/noah-isme/coursemart-api/pkg/response"
)

// ResourceHandler manages downloadable files.
type ResourceHandler struct {
	service *service.ResourceService
}

// NewResourceHandler constructs a ResourceHandler.
func NewResourceHandler(svc *service.ResourceService) *ResourceHandler {
	return &ResourceHandler{service: svc}
}

// Upload godoc
// @Summary Upload a resource
// @Tags Resources
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File"
// @Param title formData string true "Title"
// @Param description formData string false "Description"
// @Param course_id formData string false "Course ID"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/resources [post]
func (h *ResourceHandler) Upload(c *gin.Context) {
	var req models.CreateResourceRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid resource payload"))
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer file.Close() //nolint:errcheck

	res, err := h.service.Upload(c.Request.Context(), req, service.ResourceUpload{
		Filename:    fileHeader.Filename,
		Size:        fileHeader.Size,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Content:     file,
	}, principalFrom(c), clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// List godoc
// @Summary List resources
// @Tags Resources
// @Produce json
// @Param course_id query string false "Course ID"
// @Param search query string false "Search"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/resources [get]
func (h *ResourceHandler) List(c *gin.Context) {
	items, pagination, err := h.service.List(c.Request.Context(), models.ResourceFilter{
		CourseID: c.Query("course_id"),
		Search:   c.Query("search"),
		Page:     queryInt(c, "page"),
		PageSize: queryInt(c, "page_size"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Resource metadata
// @Tags Resources
// @Produce json
// @Param id path string true "Resource ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/resources/{id} [get]
func (h *ResourceHandler) Get(c *gin.Context) {
	res, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Update godoc
// @Summary Edit resource metadata
// @Tags Resources
// @Accept json
// @Produce json
// @Param id path string true "Resource ID"
// @Param payload body models.UpdateResourceRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/resources/{id} [put]
func (h *ResourceHandler) Update(c *gin.Context) {
	var req models.UpdateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid resource payload"))
		return
	}
	res, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Delete godoc
// @Summary Delete a resource and its file
// @Tags Resources
// @Param id path string true "Resource ID"
// @Success 204 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/resources/{id} [delete]
func (h *ResourceHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), principalFrom(c), clientMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// DownloadLink godoc
// @Summary Signed download link
// @Description Files attached to a course require access to that course.
// @Tags Resources
// @Produce json
// @Param id path string true "Resource ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /resources/{id}/download [get]
func (h *ResourceHandler) DownloadLink(c *gin.Context) {
	link, err := h.service.ResolveDownloadURL(c.Request.Context(), principalFrom(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Serve godoc
// @Summary Stream a stored file
// @Tags Resources
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /files/{token} [get]
func (h *ResourceHandler) Serve(c *gin.Context) {
	download, err := h.service.OpenSigned(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	c.Header("Content-Type", download.ContentType)
	c.Header("Content-Disposition", "inline; filename=\""+download.FileName+"\"")
	c.Header("Cache-Control", "private, no-store")
	http.ServeContent(c.Writer, c.Request, download.FileName, download.ModTime, download.File)
}
