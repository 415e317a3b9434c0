package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gameupdater/gameupdater/pkg/auth"
)

const ClaimsKey = "claims"

// Auth requires a bearer token issued by tokens.
func Auth(tokens *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := c.GetHeader("Authorization")
		if authorization == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.SplitN(authorization, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization"})
			return
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}
		claims, err := tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// RequireScope rejects requests whose token lacks scope. Requests that went
// through no Auth middleware pass.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, ok := c.Get(ClaimsKey)
		if !ok {
			c.Next()
			return
		}
		claims, ok := value.(*auth.Claims)
		if !ok || !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope"})
			return
		}
		c.Next()
	}
}

// Subject returns the authenticated subject, if any.
func Subject(c *gin.Context) string {
	value, ok := c.Get(ClaimsKey)
	if !ok {
		return ""
	}
	if claims, ok := value.(*auth.Claims); ok {
		return claims.Subject
	}
	return ""
}
