package client

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/publicsuffix"

	"rc-relay/internal/config"
	"rc-relay/internal/metrics"
	"rc-relay/internal/model"
)

const (
	routeVerify = "verify"

	loginOTPPath  = "api/v1/login_otp"
	verifyOTPPath = "api/v1/login_verify_otp"
)

// VerifyClient talks to the RC verification provider's login API. It keeps a
// cookie jar and presents browser-like headers, as the provider expects.
type VerifyClient struct {
	httpClient *http.Client
	baseURL    *url.URL
	cfg        config.VerifyConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewVerifyClient creates a VerifyClient for cfg.Verify.BaseURL.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewVerifyClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*VerifyClient, error) {
	base, err := url.Parse(cfg.Verify.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse verify base_url: %w", err)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := newTransport(cfg.Relay.IdleConnections, http.ProxyFromEnvironment, nil)
	// Content-Encoding is negotiated and decoded here so brotli works too.
	transport.DisableCompression = true

	return &VerifyClient{
		httpClient: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   time.Duration(cfg.Verify.TimeoutSeconds) * time.Second,
		},
		baseURL: base,
		cfg:     cfg.Verify,
		logger:  logger.With("component", "verify_client"),
		metrics: m,
	}, nil
}

// LoginOTP asks the provider to send a one-time password to the account holder.
func (c *VerifyClient) LoginOTP(ctx context.Context, username, password string) (*model.UpstreamResult, error) {
	return c.postForm(ctx, loginOTPPath, url.Values{
		"username": {username},
		"password": {password},
	})
}

// VerifyOTP exchanges a one-time password for an access token.
func (c *VerifyClient) VerifyOTP(ctx context.Context, username, password, otp string) (*model.UpstreamResult, error) {
	return c.postForm(ctx, verifyOTPPath, url.Values{
		"username": {username},
		"password": {password},
		"otp":      {otp},
	})
}

func (c *VerifyClient) postForm(ctx context.Context, path string, form url.Values) (*model.UpstreamResult, error) {
	target := c.baseURL.JoinPath(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.Referer != "" {
		req.Header.Set("Referer", c.cfg.Referer)
	}
	if c.cfg.Origin != "" {
		req.Header.Set("Origin", c.cfg.Origin)
	}

	c.logger.Info("verify request", "path", path, "username", form.Get("username"))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe(start, resp)
	if err != nil {
		return nil, fmt.Errorf("verify send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readDecoded(resp)
	if err != nil {
		return nil, fmt.Errorf("verify read body: %w", err)
	}

	header := resp.Header.Clone()
	header.Del("Content-Encoding")
	header.Del("Content-Length")

	c.logger.Info("verify response", "path", path, "status", resp.StatusCode, "bytes", len(body))

	return &model.UpstreamResult{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}

func (c *VerifyClient) observe(start time.Time, resp *http.Response) {
	if c.metrics == nil {
		return
	}
	result := "error"
	if resp != nil {
		result = strconv.Itoa(resp.StatusCode)
	}
	c.metrics.UpstreamDuration.WithLabelValues(routeVerify, http.MethodPost).Observe(time.Since(start).Seconds())
	c.metrics.UpstreamAttempts.WithLabelValues(routeVerify, http.MethodPost, result).Inc()
}

// readDecoded reads the whole body, undoing any Content-Encoding. An empty
// body stays empty whatever encoding the header claims.
func readDecoded(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return raw, nil
	}
	r, err := decodeContent(resp.Header.Get("Content-Encoding"), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func decodeContent(encoding string, r io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return r, nil
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	case "deflate":
		// HTTP "deflate" is zlib-wrapped.
		return zlib.NewReader(r)
	case "br":
		return brotli.NewReader(r), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
