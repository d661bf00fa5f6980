package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gemini-proxy-go/internal/config"
	"gemini-proxy-go/internal/metrics"
	"gemini-proxy-go/internal/service"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Every
// non-reserved path goes through dispatch: streaming generation paths are
// adapted when keepalive mode is on, everything else passes through.
// The keepalive toggle is read per request, so a config reload takes effect
// without a restart.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, streams *StreamHandler, health *HealthHandler, settings *config.Settings) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.Any("/*", func(c echo.Context) error {
		if service.IsStreamingPath(c.Request().URL.Path) && settings.KeepaliveEnabled() {
			return streams.Handle(c)
		}
		return proxy.Handle(c)
	})
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(
		promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	))
}
