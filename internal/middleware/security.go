package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are connection-scoped and never reach handlers.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that adds security headers and
// strips hop-by-hop headers from incoming requests. Responses for paths under
// any of noStorePrefixes are marked uncacheable; they carry tokens and
// verification results.
func SecurityHeaders(noStorePrefixes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			// Set before next runs: handlers that write the body commit headers.
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")

			path := c.Request().URL.Path
			for _, p := range noStorePrefixes {
				if strings.HasPrefix(path, p) {
					h.Set("Cache-Control", "no-store")
					break
				}
			}

			return next(c)
		}
	}
}
