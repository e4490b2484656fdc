package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/snaredev/snare/models"
)

// Auth gates the protected routes behind pre-shared API keys. Callers may
// present a key as either `X-API-Key: <key>` or `Authorization: Bearer
// <key>`. The accepted key is stored on the request context under
// "api_key" so the rate limiter can bucket by caller identity.
//
// With no keys configured the gate stays open: deployments behind their
// own perimeter run keyless.
func Auth(apiKeys []string) gin.HandlerFunc {
	if len(apiKeys) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	accepted := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			accepted[k] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		key := presentedKey(c)
		if key == "" {
			deny(c, "no API key presented")
			return
		}
		if _, ok := accepted[key]; !ok {
			deny(c, "API key not recognized")
			return
		}

		c.Set("api_key", key)
		c.Next()
	}
}

func deny(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ScrapeResponse{
		Status: models.StatusFailed,
		Error: &models.ErrorDetail{
			Kind:    models.ErrKindUnauthorized,
			Message: msg,
		},
	})
}

// presentedKey reads the key off the request, X-API-Key taking precedence
// over the Authorization header.
func presentedKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
