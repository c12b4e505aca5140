// Package client provides the outbound HTTP senders used by the relay and the
// verification provider client used by the login endpoints.
package client

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"rc-relay/internal/metrics"
)

// Route names label the two egress paths in logs and metrics.
const (
	RouteDirect = "direct"
	RouteProxy  = "proxy"
)

// Sender performs a single outbound HTTP exchange. The request's context
// bounds the exchange; the caller closes the response body.
type Sender interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSender is a Sender backed by a pooled http.Client. It is built once at
// startup and shared by all concurrent relay calls.
type HTTPSender struct {
	route      string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// newHTTPSender wraps transport in a client with the configured redirect policy.
// The client carries no overall timeout: the per-call deadline comes from the
// request context.
func newHTTPSender(route string, transport http.RoundTripper, followRedirects bool, logger *slog.Logger, m *metrics.Metrics) *HTTPSender {
	hc := &http.Client{Transport: transport}
	if !followRedirects {
		hc.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return &HTTPSender{
		route:      route,
		httpClient: hc,
		logger:     logger.With("component", "sender", "route", route),
		metrics:    m,
	}
}

// newTransport builds a pooled transport. proxy may be nil for direct sends.
func newTransport(idleConns int, proxy func(*http.Request) (*url.URL, error), tlsCfg *tls.Config) *http.Transport {
	return &http.Transport{
		Proxy:               proxy,
		TLSClientConfig:     tlsCfg,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        idleConns,
		MaxIdleConnsPerHost: idleConns,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// Do executes req and returns the raw response.
// The caller is responsible for closing the response body.
func (s *HTTPSender) Do(req *http.Request) (*http.Response, error) {
	s.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
	)

	start := time.Now()
	resp, err := s.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if s.metrics != nil {
			s.metrics.UpstreamDuration.WithLabelValues(s.route, method).Observe(duration)
			s.metrics.UpstreamAttempts.WithLabelValues(s.route, method, "error").Inc()
		}
		return nil, fmt.Errorf("%s send: %w", s.route, err)
	}

	if s.metrics != nil {
		s.metrics.UpstreamDuration.WithLabelValues(s.route, method).Observe(duration)
		s.metrics.UpstreamAttempts.WithLabelValues(s.route, method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return resp, nil
}
