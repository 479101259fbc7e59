package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pawsacademy/training-api/internal/models"
	"github.com/pawsacademy/training-api/internal/service"
	appErrors "github.com/pawsacademy/training-api/pkg/errors"
	"github.com/pawsacademy/training-api/pkg/export"
	"github.com/pawsacademy/training-api/pkg/response"
)

// EnrollmentHandler exposes booking, attendance and waitlist endpoints.
type EnrollmentHandler struct {
	service *service.EnrollmentService
	csv     *export.CSVExporter
}

// NewEnrollmentHandler constructs an enrollment handler.
func NewEnrollmentHandler(svc *service.EnrollmentService, csv *export.CSVExporter) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc, csv: csv}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param seriesId query string false "Filter by series"
// @Param petId query string false "Filter by pet"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var filter models.EnrollmentFilter
	filter.SeriesID = c.Query("seriesId")
	filter.PetID = c.Query("petId")
	if status := c.Query("status"); status != "" {
		filter.Status = models.EnrollmentStatus(status)
	}
	if claims := currentClaims(c); claims != nil && claims.Role == models.RoleOwner {
		filter.OwnerID = claims.UserID
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	enrollments, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Get godoc
// @Summary Get an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

type bookRequest struct {
	SeriesID string `json:"series_id" binding:"required"`
	PetID    string `json:"pet_id" binding:"required"`
}

// Book godoc
// @Summary Book a pet into a series
// @Description Enrolls directly, or joins the waitlist when the series is full
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body bookRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope "Series full, waitlist disabled"
// @Failure 422 {object} response.Envelope "Pet not eligible; issues in data"
// @Router /enrollments [post]
func (h *EnrollmentHandler) Book(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	claims := currentClaims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	enrollment, eligibility, err := h.service.Book(c.Request.Context(), service.BookRequest{
		SeriesID: req.SeriesID,
		PetID:    req.PetID,
		OwnerID:  claims.UserID,
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Code == appErrors.ErrNotEligible.Code && eligibility != nil {
			// Ineligible bookings carry the structured issue list so the
			// caller can render it directly.
			c.JSON(appErr.Status, response.Envelope{Data: eligibility, Error: appErr})
			return
		}
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"enrollment": enrollment, "eligibility": eligibility})
}

// Attendance godoc
// @Summary List an enrollment's attendance records
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/attendance [get]
func (h *EnrollmentHandler) Attendance(c *gin.Context) {
	records, err := h.service.Attendance(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// RecordAttendance godoc
// @Summary Record attendance for the current session
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.RecordAttendanceRequest true "Attendance payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/attendance [post]
func (h *EnrollmentHandler) RecordAttendance(c *gin.Context) {
	var req service.RecordAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.service.RecordAttendance(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Drop godoc
// @Summary Drop an enrollment
// @Description Dropping an enrolled pet releases its slot to the waitlist
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/drop [post]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	enrollment, err := h.service.Drop(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Claim godoc
// @Summary Claim an offered waitlist slot
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.ClaimRequest true "Claim payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/claim [post]
func (h *EnrollmentHandler) Claim(c *gin.Context) {
	var req service.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.service.Claim(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// RosterCSV godoc
// @Summary Export a series roster as CSV
// @Tags Series
// @Produce text/csv
// @Param id path string true "Series ID"
// @Success 200 {string} string "CSV payload"
// @Router /series/{id}/roster.csv [get]
func (h *EnrollmentHandler) RosterCSV(c *gin.Context) {
	seriesID := c.Param("id")
	enrollments, err := h.service.Roster(c.Request.Context(), seriesID)
	if err != nil {
		response.Error(c, err)
		return
	}

	dataset := export.Dataset{
		Headers: []string{"enrollment_id", "pet_id", "owner_id", "status", "waitlist_position", "sessions_attended", "progress", "joined_at"},
	}
	for _, e := range enrollments {
		position := ""
		if e.WaitlistPosition != nil {
			position = strconv.Itoa(*e.WaitlistPosition)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"enrollment_id":     e.ID,
			"pet_id":            e.PetID,
			"owner_id":          e.OwnerID,
			"status":            string(e.Status),
			"waitlist_position": position,
			"sessions_attended": strconv.Itoa(e.SessionsAttended),
			"progress":          strconv.Itoa(e.Progress),
			"joined_at":         e.JoinedAt.Format("2006-01-02 15:04:05"),
		})
	}

	payload, err := h.csv.Render(dataset)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=roster-%s.csv", seriesID))
	c.Data(http.StatusOK, "text/csv", payload)
}
