package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	govservice "github.com/coophabitat/finance-engine/internal/governance/service"
)

// PingFunc reports whether a dependency is reachable.
type PingFunc func(ctx context.Context) error

type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Service      string            `json:"service"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

type MetricsResponse struct {
	Dispatches             int64   `json:"dispatches"`
	DispatchErrors         int64   `json:"dispatch_errors"`
	IgnoredEvents          int64   `json:"ignored_events"`
	RejectedEvents         int64   `json:"rejected_events"`
	Transitions            int64   `json:"transitions"`
	Ticks                  int64   `json:"ticks"`
	BusySkips              int64   `json:"busy_skips"`
	AverageDispatchLatency float64 `json:"average_dispatch_latency_ms"`
}

type HealthHandler struct {
	serviceName string
	version     string
	checks      map[string]PingFunc
	timeout     time.Duration
}

func NewHealthHandler(serviceName, version string) *HealthHandler {
	return &HealthHandler{
		serviceName: serviceName,
		version:     version,
		checks:      make(map[string]PingFunc),
		timeout:     time.Second,
	}
}

// WithCheck registers a dependency probed on every health request.
func (h *HealthHandler) WithCheck(name string, fn PingFunc) *HealthHandler {
	h.checks[name] = fn
	return h
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK

	var deps map[string]string
	if len(h.checks) > 0 {
		deps = make(map[string]string, len(h.checks))
		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			pingCtx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
			err := h.checks[name](pingCtx)
			cancel()

			if err != nil {
				deps[name] = "down"
				status = "degraded"
				code = http.StatusServiceUnavailable
			} else {
				deps[name] = "up"
			}
		}
	}

	c.JSON(code, HealthResponse{
		Status:       status,
		Timestamp:    time.Now().UTC(),
		Service:      h.serviceName,
		Version:      h.version,
		Dependencies: deps,
	})
}

// Metrics reports the agreement service counters.
func (h *HealthHandler) Metrics(c *gin.Context) {
	m := govservice.GetMetrics()
	c.JSON(http.StatusOK, MetricsResponse{
		Dispatches:             m.Dispatches(),
		DispatchErrors:         m.DispatchErrors(),
		IgnoredEvents:          m.IgnoredEvents(),
		RejectedEvents:         m.RejectedEvents(),
		Transitions:            m.Transitions(),
		Ticks:                  m.Ticks(),
		BusySkips:              m.BusySkips(),
		AverageDispatchLatency: m.AverageDispatchLatency(),
	})
}

func (h *HealthHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.HealthCheck)
	r.GET("/metrics", h.Metrics)
}
