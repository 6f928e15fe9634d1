package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/campushub/thesis-api/internal/middleware"
	"github.com/campushub/thesis-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// currentUser converts token claims to the user snapshot access checks
// expect. The second return is false when no valid token is attached.
func currentUser(c *gin.Context) (models.User, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		return models.User{}, false
	}
	return claims.AsUser(), true
}
