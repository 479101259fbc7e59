package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pawsacademy/training-api/internal/service"
	appErrors "github.com/pawsacademy/training-api/pkg/errors"
	"github.com/pawsacademy/training-api/pkg/response"
)

// ProgressionHandler exposes progression and certificate endpoints.
type ProgressionHandler struct {
	service *service.ProgressionService
}

// NewProgressionHandler constructs a progression handler.
func NewProgressionHandler(svc *service.ProgressionService) *ProgressionHandler {
	return &ProgressionHandler{service: svc}
}

// Progression godoc
// @Summary Get a pet's course progression
// @Description Reports completed, unlocked and locked course types
// @Tags Progression
// @Produce json
// @Param id path string true "Pet ID"
// @Success 200 {object} response.Envelope
// @Router /pets/{id}/progression [get]
func (h *ProgressionHandler) Progression(c *gin.Context) {
	progression, err := h.service.GetProgression(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progression, nil)
}

// Certificates godoc
// @Summary List a pet's certificates
// @Tags Progression
// @Produce json
// @Param id path string true "Pet ID"
// @Success 200 {object} response.Envelope
// @Router /pets/{id}/certificates [get]
func (h *ProgressionHandler) Certificates(c *gin.Context) {
	certificates, err := h.service.Certificates(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certificates, nil)
}

// Certificate godoc
// @Summary Get a certificate
// @Tags Progression
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id} [get]
func (h *ProgressionHandler) Certificate(c *gin.Context) {
	certificate, err := h.service.Certificate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certificate, nil)
}

// DownloadLink godoc
// @Summary Create a signed download link for a certificate PDF
// @Tags Progression
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/download-link [post]
func (h *ProgressionHandler) DownloadLink(c *gin.Context) {
	token, expiresAt, err := h.service.DownloadLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"token": token, "expires_at": expiresAt}, nil)
}

// Download godoc
// @Summary Download a certificate PDF with a signed token
// @Tags Progression
// @Produce application/pdf
// @Param token query string true "Signed token"
// @Success 200 {file} file "PDF payload"
// @Router /certificates/download [get]
func (h *ProgressionHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	path, err := h.service.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Type", "application/pdf")
	c.File(path)
}
