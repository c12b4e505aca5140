package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, relay *RelayHandler, auth *AuthHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	for _, prefix := range []string{"/api/Proxy", "/api/proxy"} {
		e.POST(prefix+"/request", relay.Handle)
		e.GET(prefix+"/health", health.Health)
	}

	e.POST("/login_otp", auth.LoginOTP)
	e.POST("/login_verify_otp", auth.VerifyOTP)
}
