package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/warit/csvmatch/internal/logger"
)

const ownerHeader = "X-Owner-ID"

// ownerKey is the Gin context key the owner identity is stored under.
const ownerKey = "owner_id"

// Owner reads the caller's identity from the X-Owner-ID header. Real
// authentication lives outside this service; the header is trusted as-is.
// Requests without the header proceed anonymously and see only unscoped
// endpoints meaningfully.
func Owner() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetHeader(ownerHeader)
		if owner != "" {
			c.Set(ownerKey, owner)
			ctx := logger.WithField(c.Request.Context(), logger.FieldOwnerID, owner)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// GetOwner returns the request's owner identity, or "" when anonymous.
func GetOwner(c *gin.Context) string {
	return c.GetString(ownerKey)
}

// RequireOwner aborts with 401 when no owner identity is present.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetOwner(c) == "" {
			c.AbortWithStatusJSON(401, gin.H{
				"error": "X-Owner-ID header is required",
			})
			return
		}
		c.Next()
	}
}
