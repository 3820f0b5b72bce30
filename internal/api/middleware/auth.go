package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const userIDKey = "veilchat.user_id"

// Auth returns an API key authentication middleware that also establishes
// the caller's user identity. Session management itself is external; the
// gateway in front of this service injects X-User-ID.
func Auth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey != "" {
			// Get API key from header
			key := c.GetHeader("X-API-Key")
			if key == "" {
				// Also try Authorization header
				auth := c.GetHeader("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if key != apiKey {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
		}

		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
			c.Abort()
			return
		}
		c.Set(userIDKey, userID)

		c.Next()
	}
}

// UserID returns the authenticated user id for a request
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
