// Package model defines shared types for the relay.
package model

import (
	"encoding/json"
	"net/http"
)

// RequestDescriptor is the caller's declarative description of an outbound request.
type RequestDescriptor struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// Body is kept raw: a JSON string is sent as its value, anything else as JSON text.
	Body json.RawMessage `json:"body,omitempty"`
	// Timeout is in seconds; zero or negative selects the configured default.
	Timeout int `json:"timeout,omitempty"`
}

// ResponseEnvelope is the normalized result returned to the caller for every relay call.
type ResponseEnvelope struct {
	Success    bool              `json:"success"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Data       any               `json:"data"`
	URL        string            `json:"url,omitempty"`
	Duration   float64           `json:"duration"`
}

// ErrorData is the data payload of envelopes the relay synthesizes itself.
type ErrorData struct {
	Error string `json:"error"`
}

// StatusClientClosedRequest is the non-standard status reported when the caller aborts.
const StatusClientClosedRequest = 499

// StatusText extends http.StatusText with the relay's synthetic codes.
func StatusText(code int) string {
	if code == StatusClientClosedRequest {
		return "Client Closed Request"
	}
	return http.StatusText(code)
}
