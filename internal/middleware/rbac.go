package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/rentella/property-auth-api/internal/models"
	appErrors "github.com/rentella/property-auth-api/pkg/errors"
	"github.com/rentella/property-auth-api/pkg/response"
)

// RequireRoles gates a route to the listed roles. Authorization policy
// beyond role-tagging belongs to the business collaborators.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := claimsValue.(*models.AccessClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrInsufficientRole)
			c.Abort()
			return
		}

		c.Next()
	}
}
