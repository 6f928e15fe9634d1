package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/campushub/thesis-api/internal/models"
	appErrors "github.com/campushub/thesis-api/pkg/errors"
	"github.com/campushub/thesis-api/pkg/response"
)

// RequireGroups allows the request through when the token carries at
// least one of the named identity-provider groups. The literal "SELF"
// additionally admits requests whose :id path parameter matches the
// authenticated user.
func RequireGroups(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		allowSelf := false
		for _, group := range allowed {
			if group == "SELF" {
				allowSelf = true
				continue
			}
			if claims.InGroup(group) {
				c.Next()
				return
			}
		}

		if allowSelf {
			if targetID := c.Param("id"); targetID != "" && targetID == claims.UserID {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireStaff admits admins, supervisors and advisors.
func RequireStaff() gin.HandlerFunc {
	return RequireGroups(models.GroupAdmin, models.GroupSupervisor, models.GroupAdvisor)
}
