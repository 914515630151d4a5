package auth

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenStageCore/internal/types"
	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// AuthMiddleware validates tokens and enforces authentication. With auth
// disabled every request runs as Anonymous.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled {
			c.Set(identityKey, Anonymous())
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse(types.CodeUnauthenticated, "missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse(types.CodeUnauthenticated, "invalid authorization header format", nil))
			return
		}

		identity, err := a.ValidateToken(c.Request.Context(), parts[1], c.ClientIP())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse(types.CodeUnauthenticated, "invalid or expired token", nil))
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// RequirePermission checks if the caller has the required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := GetIdentity(c)
		if identity == nil {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse(types.CodeForbidden, "no permissions found", nil))
			return
		}

		if !identity.Has(required) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse(types.CodeForbidden, "insufficient permissions",
					gin.H{"required": string(required)}))
			return
		}

		c.Next()
	}
}

// GetIdentity returns the identity set by AuthMiddleware
func GetIdentity(c *gin.Context) *Identity {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(*Identity); ok {
			return identity
		}
	}
	return nil
}
