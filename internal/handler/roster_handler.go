package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-core-api/internal/service"
	"github.com/noah-isme/exam-core-api/pkg/response"
)

// RosterHandler exposes read-only roster reference data.
type RosterHandler struct {
	roster *service.RosterService
}

// NewRosterHandler constructs a roster handler.
func NewRosterHandler(roster *service.RosterService) *RosterHandler {
	return &RosterHandler{roster: roster}
}

// Classes godoc
// @Summary List classes of a grade
// @Tags Roster
// @Produce json
// @Param id path string true "Grade ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /grades/{id}/classes [get]
func (h *RosterHandler) Classes(c *gin.Context) {
	classes, err := h.roster.Classes(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, nil)
}

// Students godoc
// @Summary List students of a class
// @Tags Roster
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/{id}/students [get]
func (h *RosterHandler) Students(c *gin.Context) {
	students, err := h.roster.Students(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil)
}

// Subjects godoc
// @Summary List taught subjects
// @Tags Roster
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /subjects [get]
func (h *RosterHandler) Subjects(c *gin.Context) {
	subjects, err := h.roster.Subjects(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subjects, nil)
}
