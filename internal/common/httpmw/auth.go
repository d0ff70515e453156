package httpmw

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/common/logger"
)

const proxyAuthRejected = "Direct runner connections are not permitted. Route requests through the platform backend proxy."

// ProxyAuth rejects write requests that do not carry "Bearer <secret>".
// An empty secret disables the check. Reads and the public paths always pass.
func ProxyAuth(secret string, log *logger.Logger, publicPaths ...string) gin.HandlerFunc {
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}
	expected := []byte("Bearer " + secret)

	return func(c *gin.Context) {
		if secret == "" || public[c.Request.URL.Path] {
			c.Next()
			return
		}
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}

		got := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			log.Warn("rejected direct runner connection",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": proxyAuthRejected})
			return
		}
		c.Next()
	}
}
