package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-core-api/internal/service"
	"github.com/noah-isme/exam-core-api/pkg/response"
)

// SummaryHandler exposes per-student aggregate endpoints.
type SummaryHandler struct {
	summaries *service.SummaryService
}

// NewSummaryHandler constructs a summary handler.
func NewSummaryHandler(summaries *service.SummaryService) *SummaryHandler {
	return &SummaryHandler{summaries: summaries}
}

// Recompute godoc
// @Summary Recompute exam summaries
// @Description Rebuild every student aggregate from the marks ledger
// @Tags Summaries
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exams/{id}/summaries/recompute [post]
func (h *SummaryHandler) Recompute(c *gin.Context) {
	report, err := h.summaries.Recompute(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// List godoc
// @Summary List exam summaries
// @Tags Summaries
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exams/{id}/summaries [get]
func (h *SummaryHandler) List(c *gin.Context) {
	summaries, err := h.summaries.ListByExam(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summaries, nil)
}

// ForStudent godoc
// @Summary Get one student's summary
// @Tags Summaries
// @Produce json
// @Param id path string true "Exam ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exams/{id}/summaries/{studentId} [get]
func (h *SummaryHandler) ForStudent(c *gin.Context) {
	summary, err := h.summaries.ForStudent(c.Request.Context(), c.Param("id"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
