package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-core-api/internal/models"
	"github.com/noah-isme/exam-core-api/internal/service"
	appErrors "github.com/noah-isme/exam-core-api/pkg/errors"
	"github.com/noah-isme/exam-core-api/pkg/response"
)

// ReportCardHandler exposes report card generation endpoints.
type ReportCardHandler struct {
	cards *service.ReportCardService
}

// NewReportCardHandler constructs a report card handler.
func NewReportCardHandler(cards *service.ReportCardService) *ReportCardHandler {
	return &ReportCardHandler{cards: cards}
}

// Generate godoc
// @Summary Generate report cards
// @Description Compute a new immutable generation of report cards for one class
// @Tags ReportCards
// @Accept json
// @Produce json
// @Param payload body service.GenerateCardsRequest true "Generation payload"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /report-cards/generate [post]
func (h *ReportCardHandler) Generate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.GenerateCardsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.InitiatorID = claims.UserID

	gen, err := h.cards.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gen)
}

// ListGenerations godoc
// @Summary List report card generations
// @Tags ReportCards
// @Produce json
// @Param examId query string true "Exam ID"
// @Param classId query string false "Filter by class"
// @Success 200 {object} response.Envelope
// @Router /report-cards/generations [get]
func (h *ReportCardHandler) ListGenerations(c *gin.Context) {
	examID := c.Query("examId")
	if examID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "examId is required"))
		return
	}
	gens, err := h.cards.ListGenerations(c.Request.Context(), examID, c.Query("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gens, nil)
}

// Cards godoc
// @Summary List cards of a generation
// @Tags ReportCards
// @Produce json
// @Param generationId path string true "Generation ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /report-cards/generations/{generationId}/cards [get]
func (h *ReportCardHandler) Cards(c *gin.Context) {
	cards, err := h.cards.GenerationCards(c.Request.Context(), c.Param("generationId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cards, nil)
}

// StudentCard godoc
// @Summary Get one student's report card
// @Tags ReportCards
// @Produce json
// @Param generationId path string true "Generation ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /report-cards/generations/{generationId}/cards/{studentId} [get]
func (h *ReportCardHandler) StudentCard(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	card, err := h.cards.StudentCard(c.Request.Context(), c.Param("generationId"), c.Param("studentId"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, card, nil)
}

// UpdateCardStatus godoc
// @Summary Update report card status
// @Description Move a card between DRAFT, PUBLISHED and APPROVED
// @Tags ReportCards
// @Accept json
// @Produce json
// @Param cardId path string true "Card ID"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /report-cards/cards/{cardId}/status [patch]
func (h *ReportCardHandler) UpdateCardStatus(c *gin.Context) {
	var payload struct {
		Status models.ReportCardStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "status is required"))
		return
	}

	if err := h.cards.UpdateCardStatus(c.Request.Context(), c.Param("cardId"), payload.Status); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
