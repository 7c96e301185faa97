package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/coophabitat/finance-engine/internal/api/http"
	govservice "github.com/coophabitat/finance-engine/internal/governance/service"
)

func serve(t *testing.T, handler *httpapi.HealthHandler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.HandleMethodNotAllowed = true
	handler.RegisterRoutes(router)

	req, err := http.NewRequest(method, path, nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHealthCheck(t *testing.T) {
	rr := serve(t, httpapi.NewHealthHandler("test-service", "1.0.0"), "GET", "/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var response httpapi.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, "test-service", response.Service)
	assert.Equal(t, "1.0.0", response.Version)
	assert.Empty(t, response.Dependencies)
}

func TestHealthCheck_Dependencies(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	handler := httpapi.NewHealthHandler("test-service", "1.0.0").
		WithCheck("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })

	rr := serve(t, handler, "GET", "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	var up httpapi.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &up))
	assert.Equal(t, map[string]string{"redis": "up"}, up.Dependencies)

	handler.WithCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	rr = serve(t, handler, "GET", "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var down httpapi.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &down))
	assert.Equal(t, "degraded", down.Status)
	assert.Equal(t, "down", down.Dependencies["postgres"])
	assert.Equal(t, "up", down.Dependencies["redis"])
}

func TestHealthCheckMethodNotAllowed(t *testing.T) {
	rr := serve(t, httpapi.NewHealthHandler("test-service", "1.0.0"), "POST", "/health")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMetrics(t *testing.T) {
	govservice.ResetMetrics()

	rr := serve(t, httpapi.NewHealthHandler("test-service", "1.0.0"), "GET", "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)

	var m httpapi.MetricsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m))
	assert.Equal(t, int64(0), m.Dispatches)
	assert.Equal(t, 0.0, m.AverageDispatchLatency)
}
