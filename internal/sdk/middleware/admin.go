package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crisisconnect/crisis-api/internal/sdk/models"
)

// AuthorizeAdmin rejects callers whose verified role is not admin. It
// must run after Authenticate.
func AuthorizeAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		roleVal, exists := c.Get(RoleKey)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		role, ok := roleVal.(string)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		if role != models.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin_required"})
			c.Abort()
			return
		}

		c.Next()
	}
}
