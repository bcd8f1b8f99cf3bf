package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-core-api/internal/models"
	"github.com/noah-isme/exam-core-api/internal/service"
	appErrors "github.com/noah-isme/exam-core-api/pkg/errors"
	"github.com/noah-isme/exam-core-api/pkg/response"
)

// MarksHandler exposes the marks ledger endpoints.
type MarksHandler struct {
	marks *service.MarksService
}

// NewMarksHandler constructs a marks handler.
func NewMarksHandler(marks *service.MarksService) *MarksHandler {
	return &MarksHandler{marks: marks}
}

// Submit godoc
// @Summary Submit marks batch
// @Description Store a batch of marks for one exam subject; the batch is all-or-nothing
// @Tags Marks
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Param payload body service.SubmitMarksRequest true "Marks payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exams/{id}/marks [post]
func (h *MarksHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.SubmitMarksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.ExamID = c.Param("id")
	req.ActorID = claims.UserID
	req.ActorRole = claims.Role

	result, err := h.marks.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// RemoveResult godoc
// @Summary Remove a student's result
// @Description Delete one ledger row for a student who left the roster; admin only
// @Tags Marks
// @Produce json
// @Param id path string true "Exam ID"
// @Param subjectId path string true "Exam subject ID"
// @Param studentId path string true "Student ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /exams/{id}/subjects/{subjectId}/results/{studentId} [delete]
func (h *MarksHandler) RemoveResult(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	err := h.marks.RemoveResult(c.Request.Context(), c.Param("id"), c.Param("subjectId"), c.Param("studentId"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Results godoc
// @Summary List exam results
// @Description Raw ledger rows; students and parents only see published exams
// @Tags Marks
// @Produce json
// @Param id path string true "Exam ID"
// @Param examSubjectId query string false "Filter by exam subject"
// @Param studentId query string false "Filter by student"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /exams/{id}/results [get]
func (h *MarksHandler) Results(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.ResultFilter{
		ExamSubjectID: c.Query("examSubjectId"),
		StudentID:     c.Query("studentId"),
	}
	// Students can only query their own rows.
	if claims.Role == models.RoleStudent {
		filter.StudentID = claims.UserID
	}

	results, err := h.marks.Results(c.Request.Context(), c.Param("id"), filter, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, results, nil)
}
