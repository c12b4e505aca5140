// Package service implements the relay's forwarding and login logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"rc-relay/internal/client"
	"rc-relay/internal/config"
	"rc-relay/internal/metrics"
	"rc-relay/internal/model"
)

const defaultTimeoutSeconds = 30

// Relay replays caller-described requests server-side and normalizes the
// responses. It holds no per-request state; the two senders are shared.
type Relay struct {
	direct  client.Sender
	proxy   client.Sender
	cfg     config.RelayConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRelay creates a Relay over the process-wide egress senders.
// The metrics parameter is optional; pass nil to disable relay metrics.
func NewRelay(eg *client.Egress, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Relay {
	return NewRelayWithSenders(eg.Direct, eg.Proxy, cfg, logger, m)
}

// NewRelayWithSenders creates a Relay over arbitrary senders, e.g. fakes in tests.
func NewRelayWithSenders(direct, proxy client.Sender, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		direct:  direct,
		proxy:   proxy,
		cfg:     cfg.Relay,
		logger:  logger.With("component", "relay"),
		metrics: m,
	}
}

// Handle relays d and always returns an envelope. A non-nil error means the
// envelope was synthesized by the relay: 400 for ErrValidation, 499 for
// ErrClientCanceled, 500 for anything else. Upstream HTTP errors are not Go
// errors; they come back as ordinary envelopes.
func (r *Relay) Handle(ctx context.Context, d *model.RequestDescriptor) (*model.ResponseEnvelope, error) {
	start := time.Now()

	target, err := parseTarget(d.URL)
	if err != nil {
		r.outcome("validation")
		return failure(http.StatusBadRequest, err.Error(), 0), err
	}
	body, err := bodyText(d.Body)
	if err != nil {
		r.outcome("validation")
		return failure(http.StatusBadRequest, err.Error(), 0), err
	}

	method := normalizeMethod(d.Method)
	header := canonicalHeaders(d.Headers)
	r.logRequest(method, target.Redacted(), header, body)

	ob := newOutbound(method, target, header, body)
	for _, name := range ob.dropped {
		r.logger.Warn("dropping invalid request header", "header", name, "url", target.Redacted())
	}
	res, err := r.send(ctx, ob, r.timeout(d.Timeout))
	switch {
	case errors.Is(err, ErrClientCanceled):
		r.outcome("canceled")
		return failure(model.StatusClientClosedRequest, "Canceled", elapsedMS(start)), err
	case err != nil:
		r.outcome("fatal")
		r.logger.Error("relay request failed", "method", method, "url", target.Redacted(), "err", SanitizeError(err))
		return failure(http.StatusInternalServerError, SanitizeError(err), elapsedMS(start)), err
	}

	if res.status >= 300 && res.status < 400 {
		if loc := res.header.Get("Location"); loc != "" {
			r.logger.Warn("redirect detected; returned to caller as-is", "location", loc, "method", method)
		}
	}

	env := envelope(res)
	env.Duration = elapsedMS(start)
	r.outcome("upstream")
	r.logger.Info("relay response",
		"method", method,
		"url", target.Redacted(),
		"status", env.Status,
		"final_url", env.URL,
		"bytes", len(res.body),
		"duration_ms", env.Duration,
	)
	return env, nil
}

// send runs the two-step pipeline: direct attempt, then on a transient
// failure exactly one attempt through the egress proxy. Cancellation and
// fatal errors stop the pipeline.
func (r *Relay) send(ctx context.Context, ob *outbound, timeout time.Duration) (*upstreamResponse, error) {
	res, err := r.attempt(ctx, r.direct, ob, timeout)
	if err == nil {
		return res, nil
	}
	switch classify(ctx, err) {
	case failureCanceled:
		r.logger.Warn("relay request canceled by client", "stage", client.RouteDirect, "err", SanitizeError(err))
		return nil, fmt.Errorf("%w: %w", ErrClientCanceled, err)
	case failureFatal:
		return nil, fmt.Errorf("%w: %w", ErrFatalTransport, err)
	}

	r.logger.Warn("direct send failed; retrying via egress proxy", "err", SanitizeError(err))

	res, err = r.attempt(ctx, r.proxy, ob, timeout)
	if err == nil {
		r.fallback("success")
		return res, nil
	}
	if classify(ctx, err) == failureCanceled {
		r.fallback("canceled")
		r.logger.Warn("relay request canceled by client", "stage", client.RouteProxy, "err", SanitizeError(err))
		return nil, fmt.Errorf("%w: %w", ErrClientCanceled, err)
	}
	r.fallback("failure")
	return nil, fmt.Errorf("%w: proxy fallback: %w", ErrFatalTransport, err)
}

// attempt performs one bounded exchange: connect, send and full body read all
// share the attempt deadline and the caller's cancellation.
func (r *Relay) attempt(ctx context.Context, s client.Sender, ob *outbound, timeout time.Duration) (*upstreamResponse, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := ob.build(actx)
	if err != nil {
		return nil, err
	}

	resp, err := s.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	finalURL := req.URL.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &upstreamResponse{
		status:     resp.StatusCode,
		statusLine: resp.Status,
		header:     resp.Header,
		body:       body,
		finalURL:   finalURL,
	}, nil
}

// timeout resolves the per-attempt timeout, clamped to the configured maximum.
func (r *Relay) timeout(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = r.cfg.DefaultTimeoutSeconds
	}
	if seconds <= 0 {
		seconds = defaultTimeoutSeconds
	}
	if r.cfg.MaxTimeoutSeconds > 0 && seconds > r.cfg.MaxTimeoutSeconds {
		seconds = r.cfg.MaxTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

func (r *Relay) outcome(kind string) {
	if r.metrics != nil {
		r.metrics.Outcomes.WithLabelValues(kind).Inc()
	}
}

func (r *Relay) fallback(result string) {
	if r.metrics != nil {
		r.metrics.Fallbacks.WithLabelValues(result).Inc()
	}
}

func failure(status int, reason string, duration float64) *model.ResponseEnvelope {
	return &model.ResponseEnvelope{
		Success:    false,
		Status:     status,
		StatusText: model.StatusText(status),
		Headers:    map[string]string{},
		Data:       model.ErrorData{Error: reason},
		Duration:   duration,
	}
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
