package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/http/httpguts"
)

const (
	msgURLRequired = "Url is required"
	msgURLInvalid  = "Url must be absolute and use http or https"
	msgBodyInvalid = "Body must be valid JSON"

	defaultContentType = "application/x-www-form-urlencoded"
)

// restrictedHeaders are connection-level headers the transport computes itself.
var restrictedHeaders = map[string]bool{
	"Host":              true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
}

// parseTarget accepts only absolute http(s) URLs.
func parseTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &ValidationError{Reason: msgURLRequired}
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &ValidationError{Reason: msgURLInvalid}
	}
	return u, nil
}

func normalizeMethod(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return http.MethodGet
	}
	return m
}

func methodSupportsBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// bodyText turns the descriptor body into the text sent upstream: a JSON
// string is used as-is, any other JSON value is sent as compact JSON.
func bodyText(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", &ValidationError{Reason: msgBodyInvalid}
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", &ValidationError{Reason: msgBodyInvalid}
	}
	return buf.String(), nil
}

// canonicalHeaders folds caller headers into an http.Header, dropping blank names.
func canonicalHeaders(src map[string]string) http.Header {
	h := make(http.Header, len(src))
	for k, v := range src {
		if strings.TrimSpace(k) == "" {
			continue
		}
		h.Set(strings.TrimSpace(k), v)
	}
	return h
}

// forwardHeaders drops connection-level headers and Content-Type, which is
// applied together with the body. Headers the transport would reject are
// dropped too and their names returned, so one bad header cannot fail the call.
func forwardHeaders(h http.Header) (http.Header, []string) {
	dst := make(http.Header, len(h))
	var dropped []string
	for k, vals := range h {
		if restrictedHeaders[k] || k == "Content-Type" {
			continue
		}
		if !validHeader(k, vals) {
			dropped = append(dropped, k)
			continue
		}
		dst[k] = vals
	}
	sort.Strings(dropped)
	return dst, dropped
}

func validHeader(name string, vals []string) bool {
	if !httpguts.ValidHeaderFieldName(name) {
		return false
	}
	for _, v := range vals {
		if !httpguts.ValidHeaderFieldValue(v) {
			return false
		}
	}
	return true
}

// outbound holds everything needed to build a fresh request per attempt.
type outbound struct {
	method      string
	target      *url.URL
	header      http.Header
	body        string
	contentType string
	dropped     []string
}

func newOutbound(method string, target *url.URL, h http.Header, body string) *outbound {
	fwd, dropped := forwardHeaders(h)
	ob := &outbound{
		method:      method,
		target:      target,
		header:      fwd,
		contentType: defaultContentType,
		dropped:     dropped,
	}
	if ct := strings.TrimSpace(h.Get("Content-Type")); ct != "" {
		if httpguts.ValidHeaderFieldValue(ct) {
			ob.contentType = ct
		} else {
			ob.dropped = append(ob.dropped, "Content-Type")
		}
	}
	if methodSupportsBody(method) {
		ob.body = body
	}
	return ob
}

// build returns a new request; request bodies are single-use, so every send
// attempt gets its own.
func (ob *outbound) build(ctx context.Context) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if ob.body != "" {
		body = strings.NewReader(ob.body)
	}

	req, err := http.NewRequestWithContext(ctx, ob.method, ob.target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBuildRequest, err)
	}

	req.Header = ob.header.Clone()
	if ob.body != "" {
		req.Header.Set("Content-Type", ob.contentType)
	}
	return req, nil
}
