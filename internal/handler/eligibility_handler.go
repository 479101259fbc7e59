package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pawsacademy/training-api/internal/service"
	appErrors "github.com/pawsacademy/training-api/pkg/errors"
	"github.com/pawsacademy/training-api/pkg/response"
)

// EligibilityHandler exposes the eligibility preview endpoint.
type EligibilityHandler struct {
	service *service.EligibilityService
}

// NewEligibilityHandler constructs an eligibility handler.
func NewEligibilityHandler(svc *service.EligibilityService) *EligibilityHandler {
	return &EligibilityHandler{service: svc}
}

// Check godoc
// @Summary Preview eligibility for a pet and course type
// @Description Returns the full issue list; the same checks gate booking
// @Tags Eligibility
// @Produce json
// @Param petId query string true "Pet ID"
// @Param courseTypeId query string true "Course type ID"
// @Success 200 {object} response.Envelope
// @Router /eligibility [get]
func (h *EligibilityHandler) Check(c *gin.Context) {
	petID := c.Query("petId")
	courseTypeID := c.Query("courseTypeId")
	if petID == "" || courseTypeID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "petId and courseTypeId are required"))
		return
	}

	result, err := h.service.Check(c.Request.Context(), petID, courseTypeID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
