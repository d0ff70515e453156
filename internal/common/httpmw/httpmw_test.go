package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/claude-runner/internal/common/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func newAuthRouter(t *testing.T, secret string) *gin.Engine {
	r := gin.New()
	r.Use(ProxyAuth(secret, newTestLogger(t), "/health"))
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
	r.POST("/", ok)
	r.POST("/health", ok)
	r.GET("/api/v1/threads/:id/runs", ok)
	return r
}

func TestProxyAuth(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		method string
		path   string
		auth   string
		want   int
	}{
		{"disabled", "", http.MethodPost, "/", "", http.StatusOK},
		{"missing header", "s3cret", http.MethodPost, "/", "", http.StatusForbidden},
		{"wrong token", "s3cret", http.MethodPost, "/", "Bearer wrong", http.StatusForbidden},
		{"no bearer prefix", "s3cret", http.MethodPost, "/", "s3cret", http.StatusForbidden},
		{"correct token", "s3cret", http.MethodPost, "/", "Bearer s3cret", http.StatusOK},
		{"public path", "s3cret", http.MethodPost, "/health", "", http.StatusOK},
		{"reads pass", "s3cret", http.MethodGet, "/api/v1/threads/t1/runs", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			newAuthRouter(t, tt.secret).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusForbidden {
				assert.Contains(t, w.Body.String(), "Direct runner connections are not permitted")
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen any
	r := gin.New()
	r.Use(RequestID(), RequestLogger(newTestLogger(t), "test"))
	r.GET("/", func(c *gin.Context) {
		seen = c.Request.Context().Value(logger.RequestIDKey)
		c.Status(http.StatusNoContent)
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "req-1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
		assert.Equal(t, "req-1", seen)
	})

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		id := w.Header().Get(HeaderRequestID)
		assert.Len(t, id, 36)
		assert.Equal(t, id, seen)
	})
}

func TestOtelTracing_PassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), OtelTracing("test", "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/runs/:id", func(c *gin.Context) { c.String(http.StatusNotFound, c.Param("id")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "r1", w.Body.String())
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}
