package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminIDKey is the gin context key holding the authenticated admin ID.
const AdminIDKey = "admin_id"

// AdminAuth enforces bearer JWT tokens signed with HS256 and stores the admin
// ID on the request context.
func AdminAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(AdminIDKey, claims.Subject)
		c.Next()
	}
}

// AdminID extracts the authenticated admin ID from the gin context.
func AdminID(c *gin.Context) string {
	return c.GetString(AdminIDKey)
}
