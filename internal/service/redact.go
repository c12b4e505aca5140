package service

import (
	"net/http"
	"unicode/utf8"
)

const (
	redacted         = "[REDACTED]"
	truncationMarker = "…(truncated)"
	defaultPreview   = 4096
)

// sensitiveHeaders are never written to logs verbatim.
var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Cookie":              true,
	"Set-Cookie":          true,
}

// redactHeaders returns a log-safe copy of h. h itself is left untouched so
// the real values are still forwarded upstream.
func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		if sensitiveHeaders[http.CanonicalHeaderKey(k)] {
			out[k] = redacted
			continue
		}
		out[k] = h.Get(k)
	}
	return out
}

// preview caps s at limit characters, marking the cut.
func preview(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + truncationMarker
}

// logRequest records the outbound call. A failure while logging must not
// fail the relay call.
func (r *Relay) logRequest(method, target string, h http.Header, body string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("request logging failed", "panic", rec)
		}
	}()

	r.logger.Info("relay request", "method", method, "url", target)
	r.logger.Info("relay request headers", "headers", redactHeaders(h))
	if body != "" {
		limit := r.cfg.BodyPreviewChars
		if limit <= 0 {
			limit = defaultPreview
		}
		r.logger.Info("relay request body", "preview", preview(body, limit))
	}
}
