package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS lets the UI call the API from the given origins. No origins allows
// any origin, which suits a UI served from a file or a dev server.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		header := c.Writer.Header()
		origin := c.GetHeader("Origin")
		switch {
		case len(allowed) == 0:
			header.Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			header.Set("Access-Control-Allow-Origin", origin)
			header.Add("Vary", "Origin")
		}
		header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+RequestIDHeader)
		header.Set("Access-Control-Expose-Headers", RequestIDHeader)
		header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
