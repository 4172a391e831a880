package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rentella/property-auth-api/internal/service"
	"github.com/rentella/property-auth-api/pkg/response"
)

// CSRFOptions configures the CSRF gate.
type CSRFOptions struct {
	HeaderName string
	CookieName string
	// ExemptPaths lists routes protected by credential or token possession
	// instead, such as login and token refresh.
	ExemptPaths []string
}

// CSRF enforces double-submit validation on mutating requests. Safe methods
// and exempt paths pass through untouched.
func CSRF(csrfService *service.CSRFService, metrics *service.MetricsService, opts CSRFOptions) gin.HandlerFunc {
	if opts.HeaderName == "" {
		opts.HeaderName = "X-CSRF-Token"
	}
	if opts.CookieName == "" {
		opts.CookieName = "csrf_token"
	}
	exempt := make(map[string]struct{}, len(opts.ExemptPaths))
	for _, p := range opts.ExemptPaths {
		exempt[p] = struct{}{}
	}

	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		if _, ok := exempt[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		headerValue := c.GetHeader(opts.HeaderName)
		cookieValue, err := c.Cookie(opts.CookieName)
		if err != nil {
			cookieValue = ""
		}

		if err := csrfService.Validate(headerValue, cookieValue); err != nil {
			if metrics != nil {
				metrics.RecordCSRFRejected()
			}
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Next()
	}
}
