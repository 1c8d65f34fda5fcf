package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gotrs-io/gotrs-chat/internal/auth"
	"github.com/gotrs-io/gotrs-chat/internal/models"
)

// Context keys set by RequireAuth.
const (
	StaffIDKey   = "staff_id"
	StaffRoleKey = "staff_role"
	ClaimsKey    = "claims"
)

type AuthMiddleware struct {
	jwtManager *auth.JWTManager
}

func NewAuthMiddleware(jwtManager *auth.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{jwtManager: jwtManager}
}

// RequireAuth accepts requests carrying a valid staff bearer token.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := m.extractToken(c)
		if token == "" {
			m.unauthorizedResponse(c, "Missing authorization token")
			return
		}
		if m.jwtManager == nil {
			m.unauthorizedResponse(c, "Authentication is not configured")
			return
		}

		claims, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			m.unauthorizedResponse(c, "Invalid or expired token")
			return
		}
		if !models.IsStaffRole(claims.Role) {
			m.unauthorizedResponse(c, "Token does not belong to staff")
			return
		}

		c.Set(StaffIDKey, claims.StaffID)
		c.Set(StaffRoleKey, claims.Role)
		c.Set(ClaimsKey, claims)

		c.Next()
	}
}

func (m *AuthMiddleware) RequireRole(roles ...models.StaffRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := StaffRole(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			c.Abort()
			return
		}

		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error": "Insufficient permissions",
		})
		c.Abort()
	}
}

// StaffID returns the authenticated staff id.
func StaffID(c *gin.Context) (string, bool) {
	v, ok := c.Get(StaffIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// StaffRole returns the authenticated staff role.
func StaffRole(c *gin.Context) (models.StaffRole, bool) {
	v, ok := c.Get(StaffRoleKey)
	if !ok {
		return "", false
	}
	role, ok := v.(models.StaffRole)
	return role, ok
}

func (m *AuthMiddleware) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		// Bearer token format: "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}
	if cookie, err := c.Cookie("access_token"); err == nil && cookie != "" {
		return cookie
	}
	return ""
}

func (m *AuthMiddleware) unauthorizedResponse(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error": message,
	})
	c.Abort()
}
