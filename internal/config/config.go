// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/rc-relay/config.toml",
	"configs/config.toml",
}

// reservedRoutes are paths owned by the relay; the metrics path must not shadow them.
var reservedRoutes = []string{"/api/Proxy", "/api/proxy", "/healthz", "/proxy/status", "/login_otp", "/login_verify_otp"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config       string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host         string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port         int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel     string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	ProxyAddress string `kong:"help='Corporate egress proxy URL; enables the proxy fallback (overrides config).',env='RELAY_PROXY_ADDRESS'"`
	StaticDir    string `kong:"help='Directory holding the built dashboard (overrides config).',env='STATIC_DIR'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Relay   RelayConfig   `toml:"relay"`
	Proxy   ProxyConfig   `toml:"proxy"`
	Verify  VerifyConfig  `toml:"verify"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	StaticDir    string          `toml:"static_dir"`
	CORSOrigins  []string        `toml:"cors_origins"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	// Burst defaults to the per-second rate, rounded up, when zero.
	Burst int `toml:"burst"`
}

// RelayConfig holds settings for the forwarding relay.
type RelayConfig struct {
	DefaultTimeoutSeconds int `toml:"default_timeout_seconds"`
	MaxTimeoutSeconds     int `toml:"max_timeout_seconds"`
	IdleConnections       int `toml:"idle_connections"`
	BodyPreviewChars      int `toml:"body_preview_chars"`
}

// ProxyConfig describes the corporate egress proxy used by the fallback sender.
// It is read once at startup and never mutated afterwards.
type ProxyConfig struct {
	Enabled               bool     `toml:"enabled"`
	Address               string   `toml:"address"`
	BypassOnLocal         *bool    `toml:"bypass_on_local"`
	BypassList            []string `toml:"bypass_list"`
	UseDefaultCredentials bool     `toml:"use_default_credentials"`
	Username              string   `toml:"username"`
	Password              string   `toml:"password"`
	Domain                string   `toml:"domain"`

	AllowInsecureCertificates bool  `toml:"allow_insecure_certificates"`
	UseTLS12                  *bool `toml:"use_tls12"`
	UseTLS13                  *bool `toml:"use_tls13"`
	AllowAutoRedirect         bool  `toml:"allow_auto_redirect"`
}

// VerifyConfig holds settings for the verification provider used by the login endpoints.
type VerifyConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
	Referer        string `toml:"referer"`
	Origin         string `toml:"origin"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

const (
	defaultVerifyBaseURL = "https://api.verifya2z.com/"
	defaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36"
)

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/rc-relay/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.ProxyAddress != "" {
		c.Proxy.Enabled = true
		c.Proxy.Address = cli.ProxyAddress
	}
	if cli.StaticDir != "" {
		c.Server.StaticDir = cli.StaticDir
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit.burst must be non-negative; got %d", c.Server.RateLimit.Burst)
	}
	if c.Relay.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("relay.default_timeout_seconds must be non-negative; got %d", c.Relay.DefaultTimeoutSeconds)
	}
	if c.Relay.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("relay.max_timeout_seconds must be non-negative; got %d", c.Relay.MaxTimeoutSeconds)
	}
	if c.Relay.MaxTimeoutSeconds > 0 && c.Relay.DefaultTimeoutSeconds > c.Relay.MaxTimeoutSeconds {
		return fmt.Errorf("relay.default_timeout_seconds (%d) exceeds relay.max_timeout_seconds (%d)",
			c.Relay.DefaultTimeoutSeconds, c.Relay.MaxTimeoutSeconds)
	}
	if c.Relay.IdleConnections < 0 {
		return fmt.Errorf("relay.idle_connections must be non-negative; got %d", c.Relay.IdleConnections)
	}
	if c.Relay.BodyPreviewChars < 0 {
		return fmt.Errorf("relay.body_preview_chars must be non-negative; got %d", c.Relay.BodyPreviewChars)
	}

	// Egress proxy: an enabled proxy needs a usable address.
	if c.Proxy.Enabled {
		if c.Proxy.Address == "" {
			return fmt.Errorf("proxy.address is required when proxy.enabled is true")
		}
		u, err := url.Parse(c.Proxy.Address)
		if err != nil {
			return fmt.Errorf("proxy.address is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("proxy.address must use http or https; got %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("proxy.address must include a host; got %q", c.Proxy.Address)
		}
	}
	if c.Proxy.Password != "" && c.Proxy.Username == "" {
		return fmt.Errorf("proxy.password is set without proxy.username")
	}

	// Verification provider: must be HTTPS.
	if c.Verify.BaseURL != "" {
		u, err := url.Parse(c.Verify.BaseURL)
		if err != nil {
			return fmt.Errorf("verify.base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("verify.base_url must use HTTPS; got %q", c.Verify.BaseURL)
		}
	}
	if c.Verify.TimeoutSeconds < 0 {
		return fmt.Errorf("verify.timeout_seconds must be non-negative; got %d", c.Verify.TimeoutSeconds)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish between
// an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = max(1, int(math.Ceil(c.Server.RateLimit.RequestsPerSecond)))
	}
	if c.Relay.DefaultTimeoutSeconds == 0 {
		c.Relay.DefaultTimeoutSeconds = 30
	}
	if c.Relay.MaxTimeoutSeconds == 0 {
		c.Relay.MaxTimeoutSeconds = max(300, c.Relay.DefaultTimeoutSeconds)
	}
	if c.Relay.IdleConnections == 0 {
		c.Relay.IdleConnections = 100
	}
	if c.Relay.BodyPreviewChars == 0 {
		c.Relay.BodyPreviewChars = 4096
	}
	if c.Proxy.BypassOnLocal == nil {
		c.Proxy.BypassOnLocal = boolPtr(true)
	}
	if c.Proxy.UseTLS12 == nil {
		c.Proxy.UseTLS12 = boolPtr(true)
	}
	if c.Proxy.UseTLS13 == nil {
		c.Proxy.UseTLS13 = boolPtr(true)
	}
	if c.Verify.BaseURL == "" {
		c.Verify.BaseURL = defaultVerifyBaseURL
	}
	if !strings.HasSuffix(c.Verify.BaseURL, "/") {
		c.Verify.BaseURL += "/"
	}
	if c.Verify.TimeoutSeconds == 0 {
		c.Verify.TimeoutSeconds = 30
	}
	if c.Verify.UserAgent == "" {
		c.Verify.UserAgent = defaultUserAgent
	}
	if c.Verify.Referer == "" {
		c.Verify.Referer = "https://localhost/"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func boolPtr(b bool) *bool { return &b }

// BypassLocal reports whether local hosts skip the egress proxy.
func (p *ProxyConfig) BypassLocal() bool {
	return p.BypassOnLocal == nil || *p.BypassOnLocal
}

// TLS12 reports whether TLS 1.2 is allowed for outbound connections.
func (p *ProxyConfig) TLS12() bool {
	return p.UseTLS12 == nil || *p.UseTLS12
}

// TLS13 reports whether TLS 1.3 is allowed for outbound connections.
func (p *ProxyConfig) TLS13() bool {
	return p.UseTLS13 == nil || *p.UseTLS13
}

// RedactedAddress returns the proxy address with any userinfo password masked.
func (p *ProxyConfig) RedactedAddress() string {
	u, err := url.Parse(p.Address)
	if err != nil {
		return ""
	}
	return u.Redacted()
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file may carry proxy credentials.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
