package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coophabitat/finance-engine/internal/platform/logger"
)

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var seen string
	router := gin.New()
	router.Use(RequestID())
	router.GET("/ping", func(c *gin.Context) {
		seen = logger.CorrelationID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req, err := http.NewRequest("GET", "/ping", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rr.Header().Get(RequestIDHeader))

	req, err = http.NewRequest("GET", "/ping", nil)
	require.NoError(t, err)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "abc-123", seen)
	assert.Equal(t, seen, rr.Header().Get(RequestIDHeader))
}
