// Package handler implements the HTTP surface: the health endpoint, the
// metrics endpoint and the catch-all proxy route.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llm-tap/internal/config"
	"llm-tap/internal/metrics"
)

// proxyMethods are the methods relayed upstream.
var proxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

// RegisterRoutes wires all route handlers onto the Echo instance. Static
// routes take precedence over the catch-all, so /health and the metrics path
// are never forwarded.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/health", health.Health)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Match(proxyMethods, "/*", proxy.Handle)
}
