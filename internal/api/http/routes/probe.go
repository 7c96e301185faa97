package routes

import (
	"github.com/gin-gonic/gin"

	httpapi "github.com/coophabitat/finance-engine/internal/api/http"
	"github.com/coophabitat/finance-engine/internal/api/http/middleware"
)

// NewProbeRouter builds the worker's probe server: request ids, panic
// recovery, health and metrics.
func NewProbeRouter(health *httpapi.HealthHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID())
	health.RegisterRoutes(r)
	return r
}
