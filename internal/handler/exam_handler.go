package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-core-api/internal/models"
	"github.com/noah-isme/exam-core-api/internal/service"
	appErrors "github.com/noah-isme/exam-core-api/pkg/errors"
	"github.com/noah-isme/exam-core-api/pkg/response"
)

// ExamHandler exposes exam lifecycle endpoints.
type ExamHandler struct {
	exams *service.ExamService
}

// NewExamHandler constructs an exam handler.
func NewExamHandler(exams *service.ExamService) *ExamHandler {
	return &ExamHandler{exams: exams}
}

// Create godoc
// @Summary Create exam
// @Description Open a new exam in draft with its subject slots
// @Tags Exams
// @Accept json
// @Produce json
// @Param payload body service.CreateExamRequest true "Exam payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /exams [post]
func (h *ExamHandler) Create(c *gin.Context) {
	var req service.CreateExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	exam, err := h.exams.Create(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, exam)
}

// List godoc
// @Summary List exams
// @Tags Exams
// @Produce json
// @Param gradeId query string false "Filter by grade"
// @Param classId query string false "Filter by class"
// @Param term query int false "Filter by term"
// @Param year query int false "Filter by year"
// @Param status query string false "Filter by status"
// @Param includeRetired query bool false "Include retired exams"
// @Success 200 {object} response.Envelope
// @Router /exams [get]
func (h *ExamHandler) List(c *gin.Context) {
	filter := models.ExamFilter{
		GradeID:  c.Query("gradeId"),
		ClassID:  c.Query("classId"),
		Term:     queryInt(c, "term", 0),
		Year:     queryInt(c, "year", 0),
		Status:   models.ExamStatus(c.Query("status")),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "pageSize", 20),
	}
	if c.Query("includeRetired") != "true" {
		retired := false
		filter.Retired = &retired
	}

	exams, total, err := h.exams.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exams, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get exam by id
// @Tags Exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exams/{id} [get]
func (h *ExamHandler) Get(c *gin.Context) {
	exam, err := h.exams.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exam, nil)
}

// Workflow godoc
// @Summary Get exam workflow status
// @Description Returns the exam with subject completeness and transition history
// @Tags Exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Router /exams/{id}/workflow [get]
func (h *ExamHandler) Workflow(c *gin.Context) {
	status, err := h.exams.Workflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

type transitionPayload struct {
	Note     string `json:"note"`
	Override bool   `json:"override"`
}

func (h *ExamHandler) transitionRequest(c *gin.Context) (service.TransitionRequest, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return service.TransitionRequest{}, false
	}
	var payload transitionPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return service.TransitionRequest{}, false
		}
	}
	return service.TransitionRequest{
		ExamID:    c.Param("id"),
		ActorID:   claims.UserID,
		ActorRole: claims.Role,
		Note:      payload.Note,
		Override:  payload.Override,
	}, true
}

// StartMarksEntry godoc
// @Summary Open marks entry
// @Description Open marks entry on a draft exam, or reopen it from class review
// @Tags Exams
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exams/{id}/start-marks-entry [post]
func (h *ExamHandler) StartMarksEntry(c *gin.Context) {
	req, ok := h.transitionRequest(c)
	if !ok {
		return
	}
	exam, err := h.exams.StartMarksEntry(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exam, nil)
}

// AdvanceToReview godoc
// @Summary Advance exam to class review
// @Description Requires complete marks unless an admin sets override
// @Tags Exams
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /exams/{id}/advance-review [post]
func (h *ExamHandler) AdvanceToReview(c *gin.Context) {
	req, ok := h.transitionRequest(c)
	if !ok {
		return
	}
	exam, err := h.exams.AdvanceToReview(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exam, nil)
}

// ReadyToPublish godoc
// @Summary Mark exam ready to publish
// @Tags Exams
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exams/{id}/ready-to-publish [post]
func (h *ExamHandler) ReadyToPublish(c *gin.Context) {
	req, ok := h.transitionRequest(c)
	if !ok {
		return
	}
	exam, err := h.exams.ReadyToPublish(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exam, nil)
}

// Publish godoc
// @Summary Publish exam results
// @Description Stamps the publication time; repeated calls are no-ops
// @Tags Exams
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exams/{id}/publish [post]
func (h *ExamHandler) Publish(c *gin.Context) {
	req, ok := h.transitionRequest(c)
	if !ok {
		return
	}
	exam, err := h.exams.Publish(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exam, nil)
}

// UpdateDeadlines godoc
// @Summary Reschedule exam deadlines
// @Description Set new marks entry and review deadlines for an unpublished exam
// @Tags Exams
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Param payload body service.UpdateDeadlinesRequest true "Deadline payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exams/{id}/deadlines [patch]
func (h *ExamHandler) UpdateDeadlines(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.UpdateDeadlinesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.ExamID = c.Param("id")
	req.ActorID = claims.UserID

	exam, err := h.exams.UpdateDeadlines(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exam, nil)
}

// Retire godoc
// @Summary Retire exam
// @Description Hide the exam from default listings without touching its data
// @Tags Exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 204 {object} response.Envelope
// @Router /exams/{id}/retire [post]
func (h *ExamHandler) Retire(c *gin.Context) {
	req, ok := h.transitionRequest(c)
	if !ok {
		return
	}
	if err := h.exams.Retire(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Restore godoc
// @Summary Restore retired exam
// @Tags Exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 204 {object} response.Envelope
// @Router /exams/{id}/restore [post]
func (h *ExamHandler) Restore(c *gin.Context) {
	req, ok := h.transitionRequest(c)
	if !ok {
		return
	}
	if err := h.exams.Restore(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
