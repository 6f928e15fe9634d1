package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campushub/thesis-api/internal/dto"
	"github.com/campushub/thesis-api/internal/service"
	appErrors "github.com/campushub/thesis-api/pkg/errors"
	"github.com/campushub/thesis-api/pkg/response"
)

// TopicHandler exposes the advertised-topic endpoints.
type TopicHandler struct {
	service *service.TopicService
}

// NewTopicHandler creates a new topic handler.
func NewTopicHandler(svc *service.TopicService) *TopicHandler {
	return &TopicHandler{service: svc}
}

// Create godoc
// @Summary Publish topic
// @Description Publish a new thesis topic with advisor and supervisor slots
// @Tags Topics
// @Accept json
// @Produce json
// @Param payload body dto.CreateTopicRequest true "Topic payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /topics [post]
func (h *TopicHandler) Create(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid topic payload"))
		return
	}

	topic, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, topic)
}

// Update godoc
// @Summary Update topic
// @Description Edit an open topic
// @Tags Topics
// @Accept json
// @Produce json
// @Param id path string true "Topic ID"
// @Param payload body dto.UpdateTopicRequest true "Topic payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /topics/{id} [put]
func (h *TopicHandler) Update(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.UpdateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid topic payload"))
		return
	}

	topic, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, topic, nil)
}

// Get godoc
// @Summary Get topic
// @Description Get topic detail including role assignments
// @Tags Topics
// @Produce json
// @Param id path string true "Topic ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /topics/{id} [get]
func (h *TopicHandler) Get(c *gin.Context) {
	topic, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, topic, nil)
}

// List godoc
// @Summary List topics
// @Description List topics, excluding closed ones unless requested
// @Tags Topics
// @Produce json
// @Param includeClosed query bool false "Include closed topics"
// @Param thesisType query string false "Thesis type filter"
// @Param search query string false "Search term"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /topics [get]
func (h *TopicHandler) List(c *gin.Context) {
	var query dto.TopicListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}

	topics, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, topics, pagination)
}

// Close godoc
// @Summary Close topic
// @Description Close a topic and reject its pending applications
// @Tags Topics
// @Accept json
// @Produce json
// @Param id path string true "Topic ID"
// @Param payload body dto.CloseTopicRequest true "Close payload"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /topics/{id}/close [post]
func (h *TopicHandler) Close(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CloseTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid close payload"))
		return
	}

	if err := h.service.Close(c.Request.Context(), actor, c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
