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

// CourseTypeHandler exposes course catalog endpoints.
type CourseTypeHandler struct {
	service *service.CourseTypeService
}

// NewCourseTypeHandler constructs a catalog handler.
func NewCourseTypeHandler(svc *service.CourseTypeService) *CourseTypeHandler {
	return &CourseTypeHandler{service: svc}
}

// List godoc
// @Summary List course types
// @Tags Catalog
// @Produce json
// @Param active query bool false "Only active entries"
// @Param search query string false "Name search"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /course-types [get]
func (h *CourseTypeHandler) List(c *gin.Context) {
	var filter models.CourseTypeFilter
	if active := c.Query("active"); active != "" {
		if val, err := strconv.ParseBool(active); err == nil {
			filter.ActiveOnly = val
		}
	}
	filter.Search = c.Query("search")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.PageSize = size
	}

	courseTypes, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courseTypes, pagination)
}

// Get godoc
// @Summary Get a course type
// @Tags Catalog
// @Produce json
// @Param id path string true "Course type ID"
// @Success 200 {object} response.Envelope
// @Router /course-types/{id} [get]
func (h *CourseTypeHandler) Get(c *gin.Context) {
	courseType, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courseType, nil)
}

// Create godoc
// @Summary Create a course type
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseTypeRequest true "Course type payload"
// @Success 201 {object} response.Envelope
// @Router /course-types [post]
func (h *CourseTypeHandler) Create(c *gin.Context) {
	var req service.CreateCourseTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	courseType, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, courseType)
}

// Deactivate godoc
// @Summary Deactivate a course type
// @Tags Catalog
// @Produce json
// @Param id path string true "Course type ID"
// @Success 204
// @Router /course-types/{id} [delete]
func (h *CourseTypeHandler) Deactivate(c *gin.Context) {
	if err := h.service.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
