package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campushub/thesis-api/internal/dto"
	"github.com/campushub/thesis-api/internal/service"
	appErrors "github.com/campushub/thesis-api/pkg/errors"
	"github.com/campushub/thesis-api/pkg/response"
)

// PresentationHandler exposes presentation scheduling endpoints and the
// public calendar feed.
type PresentationHandler struct {
	service *service.PresentationService
}

// NewPresentationHandler creates a new presentation handler.
func NewPresentationHandler(svc *service.PresentationService) *PresentationHandler {
	return &PresentationHandler{service: svc}
}

// Create godoc
// @Summary Draft presentation
// @Description Draft a presentation slot for a thesis
// @Tags Presentations
// @Accept json
// @Produce json
// @Param payload body dto.CreatePresentationRequest true "Presentation payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /presentations [post]
func (h *PresentationHandler) Create(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreatePresentationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid presentation payload"))
		return
	}

	presentation, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, presentation)
}

// Get godoc
// @Summary Get presentation
// @Description Get presentation detail
// @Tags Presentations
// @Produce json
// @Param id path string true "Presentation ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /presentations/{id} [get]
func (h *PresentationHandler) Get(c *gin.Context) {
	// Anonymous callers see public presentations.
	actor, _ := currentUser(c)

	presentation, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, presentation, nil)
}

// List godoc
// @Summary List presentations
// @Description List presentations visible to the caller
// @Tags Presentations
// @Produce json
// @Param thesisId query string false "Thesis filter"
// @Param type query []string false "Type filter"
// @Param visibility query []string false "Visibility filter"
// @Param state query []string false "State filter"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /presentations [get]
func (h *PresentationHandler) List(c *gin.Context) {
	// Anonymous callers are scoped to public presentations.
	actor, _ := currentUser(c)

	var query dto.PresentationListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}

	presentations, err := h.service.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, presentations, nil)
}

// Update godoc
// @Summary Reschedule presentation
// @Description Reschedule a drafted presentation; scheduled ones conflict
// @Tags Presentations
// @Accept json
// @Produce json
// @Param id path string true "Presentation ID"
// @Param payload body dto.UpdatePresentationRequest true "Presentation payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /presentations/{id} [put]
func (h *PresentationHandler) Update(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.UpdatePresentationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid presentation payload"))
		return
	}

	presentation, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, presentation, nil)
}

// Schedule godoc
// @Summary Schedule presentation
// @Description Confirm a drafted presentation; public ones are pushed to the calendar
// @Tags Presentations
// @Produce json
// @Param id path string true "Presentation ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /presentations/{id}/schedule [post]
func (h *PresentationHandler) Schedule(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	presentation, err := h.service.Schedule(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, presentation, nil)
}

// Delete godoc
// @Summary Delete presentation
// @Description Remove a presentation and its calendar event
// @Tags Presentations
// @Produce json
// @Param id path string true "Presentation ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /presentations/{id} [delete]
func (h *PresentationHandler) Delete(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Feed godoc
// @Summary Public presentation feed
// @Description ICS calendar feed of scheduled public presentations; no authentication required
// @Tags Presentations
// @Produce plain
// @Success 200 {string} string
// @Router /feed/presentations.ics [get]
func (h *PresentationHandler) Feed(c *gin.Context) {
	feed, err := h.service.Feed(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Data(http.StatusOK, "text/calendar; charset=utf-8", feed)
}
