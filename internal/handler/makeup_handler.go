package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pawsacademy/training-api/internal/service"
	appErrors "github.com/pawsacademy/training-api/pkg/errors"
	"github.com/pawsacademy/training-api/pkg/response"
)

// MakeupHandler exposes makeup credit and session endpoints.
type MakeupHandler struct {
	service *service.MakeupService
}

// NewMakeupHandler constructs a makeup handler.
func NewMakeupHandler(svc *service.MakeupService) *MakeupHandler {
	return &MakeupHandler{service: svc}
}

// Credits godoc
// @Summary Get an enrollment's makeup credit ledger
// @Tags Makeups
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/makeup-credits [get]
func (h *MakeupHandler) Credits(c *gin.Context) {
	credit, err := h.service.Credits(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, credit, nil)
}

// ListByEnrollment godoc
// @Summary List an enrollment's makeup sessions
// @Tags Makeups
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/makeups [get]
func (h *MakeupHandler) ListByEnrollment(c *gin.Context) {
	sessions, err := h.service.ListByEnrollment(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

type requestMakeupRequest struct {
	AttendanceID string `json:"attendance_id" binding:"required"`
}

// Request godoc
// @Summary Request a makeup session for a missed attendance
// @Tags Makeups
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body requestMakeupRequest true "Makeup payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/makeups [post]
func (h *MakeupHandler) Request(c *gin.Context) {
	var req requestMakeupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.service.Request(c.Request.Context(), c.Param("id"), req.AttendanceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// Get godoc
// @Summary Get a makeup session
// @Tags Makeups
// @Produce json
// @Param id path string true "Makeup session ID"
// @Success 200 {object} response.Envelope
// @Router /makeups/{id} [get]
func (h *MakeupHandler) Get(c *gin.Context) {
	session, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Schedule godoc
// @Summary Schedule a pending makeup session
// @Tags Makeups
// @Accept json
// @Produce json
// @Param id path string true "Makeup session ID"
// @Param payload body service.ScheduleMakeupRequest true "Schedule payload"
// @Success 200 {object} response.Envelope
// @Router /makeups/{id}/schedule [post]
func (h *MakeupHandler) Schedule(c *gin.Context) {
	var req service.ScheduleMakeupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.service.Schedule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Complete godoc
// @Summary Complete a scheduled makeup session
// @Tags Makeups
// @Produce json
// @Param id path string true "Makeup session ID"
// @Success 200 {object} response.Envelope
// @Router /makeups/{id}/complete [post]
func (h *MakeupHandler) Complete(c *gin.Context) {
	session, err := h.service.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Cancel godoc
// @Summary Cancel an open makeup session
// @Description The spent credit is not refunded
// @Tags Makeups
// @Produce json
// @Param id path string true "Makeup session ID"
// @Success 200 {object} response.Envelope
// @Router /makeups/{id}/cancel [post]
func (h *MakeupHandler) Cancel(c *gin.Context) {
	session, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}
