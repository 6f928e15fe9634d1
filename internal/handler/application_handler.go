package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campushub/thesis-api/internal/dto"
	"github.com/campushub/thesis-api/internal/service"
	appErrors "github.com/campushub/thesis-api/pkg/errors"
	"github.com/campushub/thesis-api/pkg/response"
)

// ApplicationHandler exposes the application review endpoints.
type ApplicationHandler struct {
	service *service.ApplicationService
}

// NewApplicationHandler creates a new application handler.
func NewApplicationHandler(svc *service.ApplicationService) *ApplicationHandler {
	return &ApplicationHandler{service: svc}
}

// Submit godoc
// @Summary Submit application
// @Description Submit a thesis application, optionally referencing an open topic
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body dto.CreateApplicationRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications [post]
func (h *ApplicationHandler) Submit(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid application payload"))
		return
	}

	application, err := h.service.Submit(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, application)
}

// Get godoc
// @Summary Get application
// @Description Get application detail; applicants only see their own
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	application, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, application, nil)
}

// List godoc
// @Summary List applications
// @Description List applications; non-reviewers are scoped to their own
// @Tags Applications
// @Produce json
// @Param state query []string false "State filter"
// @Param topicId query string false "Topic filter"
// @Param thesisType query string false "Thesis type filter"
// @Param search query string false "Search term"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var query dto.ApplicationListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}

	applications, pagination, err := h.service.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, applications, pagination)
}

// Accept godoc
// @Summary Accept application
// @Description Accept an application, creating the thesis and assigning roles
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.AcceptApplicationRequest true "Accept payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/accept [post]
func (h *ApplicationHandler) Accept(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.AcceptApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid accept payload"))
		return
	}

	thesis, err := h.service.Accept(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, thesis)
}

// Reject godoc
// @Summary Reject application
// @Description Reject an application; FAILED_STUDENT_REQUIREMENTS cascades to the applicant's other pending applications
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.RejectApplicationRequest true "Reject payload"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/reject [post]
func (h *ApplicationHandler) Reject(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.RejectApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reject payload"))
		return
	}

	if err := h.service.Reject(c.Request.Context(), actor, c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Mark godoc
// @Summary Set reviewer mark
// @Description Record or replace the reviewer's interest mark
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.ReviewerMarkRequest true "Mark payload"
// @Success 204 {object} response.Envelope
// @Router /applications/{id}/mark [put]
func (h *ApplicationHandler) Mark(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.ReviewerMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid mark payload"))
		return
	}

	if err := h.service.Mark(c.Request.Context(), actor, c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ClearMark godoc
// @Summary Clear reviewer mark
// @Description Remove the reviewer's interest mark; missing marks are a no-op
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 204 {object} response.Envelope
// @Router /applications/{id}/mark [delete]
func (h *ApplicationHandler) ClearMark(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.ClearMark(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Marks godoc
// @Summary List reviewer marks
// @Description List all reviewer marks on an application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/marks [get]
func (h *ApplicationHandler) Marks(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	marks, err := h.service.Marks(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, marks, nil)
}
