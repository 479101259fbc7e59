package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/pawsacademy/training-api/internal/middleware"
	"github.com/pawsacademy/training-api/internal/models"
)

// currentClaims returns the JWT claims attached by the auth middleware.
func currentClaims(c *gin.Context) *models.JWTClaims {
	value, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}
