package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campushub/thesis-api/internal/dto"
	"github.com/campushub/thesis-api/internal/models"
	"github.com/campushub/thesis-api/internal/service"
	appErrors "github.com/campushub/thesis-api/pkg/errors"
	"github.com/campushub/thesis-api/pkg/response"
)

// ThesisHandler exposes the thesis lifecycle endpoints.
type ThesisHandler struct {
	service *service.ThesisService
	export  *service.ExportService
}

// NewThesisHandler creates a new thesis handler.
func NewThesisHandler(svc *service.ThesisService, export *service.ExportService) *ThesisHandler {
	return &ThesisHandler{service: svc, export: export}
}

// Create godoc
// @Summary Create thesis
// @Description Create a thesis directly, without an application
// @Tags Theses
// @Accept json
// @Produce json
// @Param payload body dto.CreateThesisRequest true "Thesis payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /theses [post]
func (h *ThesisHandler) Create(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateThesisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid thesis payload"))
		return
	}

	thesis, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, thesis)
}

// Get godoc
// @Summary Get thesis
// @Description Get thesis detail; fields are redacted by access level
// @Tags Theses
// @Produce json
// @Param id path string true "Thesis ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /theses/{id} [get]
func (h *ThesisHandler) Get(c *gin.Context) {
	// Anonymous callers can read public theses.
	actor, _ := currentUser(c)

	thesis, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, thesis, nil)
}

// List godoc
// @Summary List theses
// @Description List theses visible to the caller
// @Tags Theses
// @Produce json
// @Param state query []string false "State filter"
// @Param visibility query []string false "Visibility filter"
// @Param type query string false "Thesis type filter"
// @Param search query string false "Search term"
// @Param mine query bool false "Only theses with own role"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /theses [get]
func (h *ThesisHandler) List(c *gin.Context) {
	// Anonymous callers are scoped to public theses.
	actor, _ := currentUser(c)

	var query dto.ThesisListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}

	theses, pagination, err := h.service.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, theses, pagination)
}

// Update godoc
// @Summary Update thesis
// @Description Edit descriptive thesis fields
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.UpdateThesisRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /theses/{id} [put]
func (h *ThesisHandler) Update(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.UpdateThesisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid update payload"))
		return
	}

	thesis, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, thesis, nil)
}

// SubmitProposal godoc
// @Summary Submit proposal
// @Description Upload a proposal document for an in-proposal thesis
// @Tags Theses
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Thesis ID"
// @Param file formData file true "Proposal document"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /theses/{id}/proposal [post]
func (h *ThesisHandler) SubmitProposal(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filename, data, err := readUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	proposal, err := h.service.SubmitProposal(c.Request.Context(), actor, c.Param("id"), filename, data)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, proposal)
}

// AcceptProposal godoc
// @Summary Accept proposal
// @Description Approve a proposal and move the thesis to writing
// @Tags Theses
// @Produce json
// @Param id path string true "Thesis ID"
// @Param proposalId path string true "Proposal ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /theses/{id}/proposal/{proposalId}/accept [post]
func (h *ThesisHandler) AcceptProposal(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.AcceptProposal(c.Request.Context(), actor, c.Param("id"), c.Param("proposalId")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// UploadFile godoc
// @Summary Upload thesis file
// @Description Attach a thesis or presentation document
// @Tags Theses
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Thesis ID"
// @Param type formData string true "File type (THESIS or PRESENTATION)"
// @Param file formData file true "Document"
// @Success 201 {object} response.Envelope
// @Router /theses/{id}/files [post]
func (h *ThesisHandler) UploadFile(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileType := models.ThesisFileType(c.PostForm("type"))
	filename, data, err := readUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	file, err := h.service.UploadFile(c.Request.Context(), actor, c.Param("id"), fileType, filename, data)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, file)
}

// Document godoc
// @Summary Download document
// @Description Download a proposal or file document belonging to the thesis
// @Tags Theses
// @Produce octet-stream
// @Param id path string true "Thesis ID"
// @Param ref path string true "Document reference"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /theses/{id}/documents/{ref} [get]
func (h *ThesisHandler) Document(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	data, err := h.service.LoadDocument(c.Request.Context(), actor, c.Param("id"), c.Param("ref"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", data)
}

// Submit godoc
// @Summary Submit thesis
// @Description Move the thesis from writing to submitted; requires an uploaded thesis file
// @Tags Theses
// @Produce json
// @Param id path string true "Thesis ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /theses/{id}/submit [post]
func (h *ThesisHandler) Submit(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.SubmitThesis(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Assess godoc
// @Summary Assess thesis
// @Description Record the advisor assessment and move the thesis to assessed
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.CreateAssessmentRequest true "Assessment payload"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /theses/{id}/assess [post]
func (h *ThesisHandler) Assess(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assessment payload"))
		return
	}

	if err := h.service.Assess(c.Request.Context(), actor, c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Grade godoc
// @Summary Grade thesis
// @Description Record the final grade and move the thesis to graded
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.GradeThesisRequest true "Grade payload"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /theses/{id}/grade [post]
func (h *ThesisHandler) Grade(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.GradeThesisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid grade payload"))
		return
	}

	if err := h.service.Grade(c.Request.Context(), actor, c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Complete godoc
// @Summary Complete thesis
// @Description Move the thesis to finished and release the student group if no active theses remain
// @Tags Theses
// @Produce json
// @Param id path string true "Thesis ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /theses/{id}/complete [post]
func (h *ThesisHandler) Complete(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Complete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// DropOut godoc
// @Summary Drop out
// @Description Terminate the thesis from any non-terminal state
// @Tags Theses
// @Produce json
// @Param id path string true "Thesis ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /theses/{id}/drop-out [post]
func (h *ThesisHandler) DropOut(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.DropOut(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Export godoc
// @Summary Export thesis overview
// @Description Download the filtered thesis list as CSV or PDF
// @Tags Theses
// @Produce octet-stream
// @Param format query string false "csv or pdf"
// @Param state query []string false "State filter"
// @Param type query string false "Thesis type filter"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /theses/export [get]
func (h *ThesisHandler) Export(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	filter := models.ThesisFilter{Type: c.Query("type")}
	for _, state := range c.QueryArray("state") {
		filter.States = append(filter.States, models.ThesisState(state))
	}

	result, err := h.export.ThesisOverview(c.Request.Context(), actor, format, filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}

func readUpload(c *gin.Context) (string, []byte, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to open upload")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload")
	}
	return fileHeader.Filename, data, nil
}
