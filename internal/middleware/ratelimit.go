package middleware

import (
	"fmt"
	"math"

	"github.com/gin-gonic/gin"

	"github.com/rentella/property-auth-api/internal/models"
	"github.com/rentella/property-auth-api/internal/service"
	appErrors "github.com/rentella/property-auth-api/pkg/errors"
	"github.com/rentella/property-auth-api/pkg/response"
)

// RateLimit counts the request against the class window before the handler
// runs. Exceeding the threshold yields 429 with a Retry-After hint.
func RateLimit(limiter *service.RateLimitService, metrics *service.MetricsService, class service.EndpointClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		retryAfter, err := limiter.CheckAndIncrement(c.Request.Context(), clientKey(c), class)
		if err != nil {
			if appErrors.Is(err, appErrors.ErrRateLimited) {
				if metrics != nil {
					metrics.RecordRateLimited(string(class))
				}
				seconds := int(math.Ceil(retryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				c.Header("Retry-After", fmt.Sprintf("%d", seconds))
			}
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// clientKey identifies the caller: the authenticated username when claims
// are present, the client IP otherwise.
func clientKey(c *gin.Context) string {
	if claimsValue, exists := c.Get(ContextUserKey); exists {
		if claims, ok := claimsValue.(*models.AccessClaims); ok && claims.Subject != "" {
			return "user:" + claims.Subject
		}
	}
	return "ip:" + c.ClientIP()
}
