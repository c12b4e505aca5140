package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"rc-relay/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	now     func() time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, now: time.Now}
}

// Health answers the dashboard's relay health probe.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": h.now().UTC(),
	})
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns relay status information. Proxy credentials are never shown.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":          "ok",
		"version":         string(h.version),
		"proxy_enabled":   h.cfg.Proxy.Enabled,
		"proxy_address":   h.cfg.Proxy.RedactedAddress(),
		"verify_base_url": h.cfg.Verify.BaseURL,
	})
}
