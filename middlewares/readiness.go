package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ReadinessMiddleware answers 503 until ready reports true. Probes and metrics are always served.
func ReadinessMiddleware(ready func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/healthz":
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		case "/metrics":
			c.Next()
			return
		}
		if !ready() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}
