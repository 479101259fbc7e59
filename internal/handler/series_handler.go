package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pawsacademy/training-api/internal/models"
	"github.com/pawsacademy/training-api/internal/service"
	appErrors "github.com/pawsacademy/training-api/pkg/errors"
	"github.com/pawsacademy/training-api/pkg/response"
)

// SeriesHandler exposes series scheduling endpoints.
type SeriesHandler struct {
	service *service.SeriesService
}

// NewSeriesHandler constructs a series handler.
func NewSeriesHandler(svc *service.SeriesService) *SeriesHandler {
	return &SeriesHandler{service: svc}
}

// List godoc
// @Summary List series
// @Tags Series
// @Produce json
// @Param courseTypeId query string false "Filter by course type"
// @Param instructorId query string false "Filter by instructor"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /series [get]
func (h *SeriesHandler) List(c *gin.Context) {
	var filter models.SeriesFilter
	filter.CourseTypeID = c.Query("courseTypeId")
	filter.InstructorID = c.Query("instructorId")
	if status := c.Query("status"); status != "" {
		filter.Status = models.SeriesStatus(status)
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	series, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, series, pagination)
}

// Get godoc
// @Summary Get a series
// @Tags Series
// @Produce json
// @Param id path string true "Series ID"
// @Success 200 {object} response.Envelope
// @Router /series/{id} [get]
func (h *SeriesHandler) Get(c *gin.Context) {
	series, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, series, nil)
}

// Create godoc
// @Summary Schedule a series
// @Description Creates the series and generates its session calendar
// @Tags Series
// @Accept json
// @Produce json
// @Param payload body service.CreateSeriesRequest true "Series payload"
// @Success 201 {object} response.Envelope
// @Router /series [post]
func (h *SeriesHandler) Create(c *gin.Context) {
	var req service.CreateSeriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	series, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, series)
}

// Sessions godoc
// @Summary List a series' sessions
// @Tags Series
// @Produce json
// @Param id path string true "Series ID"
// @Success 200 {object} response.Envelope
// @Router /series/{id}/sessions [get]
func (h *SeriesHandler) Sessions(c *gin.Context) {
	sessions, err := h.service.Sessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// Regenerate godoc
// @Summary Regenerate a series' sessions
// @Description Rejected once any session has started
// @Tags Series
// @Produce json
// @Param id path string true "Series ID"
// @Success 200 {object} response.Envelope
// @Router /series/{id}/sessions/regenerate [post]
func (h *SeriesHandler) Regenerate(c *gin.Context) {
	sessions, err := h.service.Regenerate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

type updateSeriesStatusRequest struct {
	Status models.SeriesStatus `json:"status" binding:"required"`
}

// UpdateStatus godoc
// @Summary Advance the series lifecycle
// @Tags Series
// @Accept json
// @Produce json
// @Param id path string true "Series ID"
// @Param payload body updateSeriesStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /series/{id}/status [patch]
func (h *SeriesHandler) UpdateStatus(c *gin.Context) {
	var req updateSeriesStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	series, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, series, nil)
}
