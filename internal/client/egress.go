package client

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpproxy"

	"rc-relay/internal/config"
	"rc-relay/internal/metrics"
)

// Egress holds the two process-wide senders: one that never uses a proxy and
// one routed through the corporate egress proxy. Neither is mutated after
// construction.
type Egress struct {
	Direct *HTTPSender
	Proxy  *HTTPSender
}

// NewEgress builds both senders from the immutable startup configuration.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewEgress(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Egress, error) {
	pc := cfg.Proxy
	tlsCfg := newTLSConfig(&pc)

	proxy, err := proxyFunc(&pc)
	if err != nil {
		return nil, err
	}

	direct := newTransport(cfg.Relay.IdleConnections, nil, tlsCfg)
	routed := newTransport(cfg.Relay.IdleConnections, proxy, tlsCfg.Clone())

	if pc.Enabled {
		logger.Info("egress proxy configured",
			"address", pc.RedactedAddress(),
			"bypass_on_local", pc.BypassLocal(),
			"bypass_list", pc.BypassList,
			"credentials", credentialMode(&pc),
		)
	} else {
		logger.Info("egress proxy disabled; fallback sender uses the environment proxy settings")
	}
	if pc.AllowInsecureCertificates {
		logger.Warn("upstream TLS certificate verification is disabled")
	}

	return &Egress{
		Direct: newHTTPSender(RouteDirect, direct, pc.AllowAutoRedirect, logger, m),
		Proxy:  newHTTPSender(RouteProxy, routed, pc.AllowAutoRedirect, logger, m),
	}, nil
}

// newTLSConfig maps the TLS version switches onto a tls.Config. With both
// switches off the Go defaults apply.
func newTLSConfig(pc *config.ProxyConfig) *tls.Config {
	c := &tls.Config{
		InsecureSkipVerify: pc.AllowInsecureCertificates, //nolint:gosec // opt-in via proxy.allow_insecure_certificates
	}
	switch {
	case pc.TLS12() && pc.TLS13():
		c.MinVersion, c.MaxVersion = tls.VersionTLS12, tls.VersionTLS13
	case pc.TLS12():
		c.MinVersion, c.MaxVersion = tls.VersionTLS12, tls.VersionTLS12
	case pc.TLS13():
		c.MinVersion, c.MaxVersion = tls.VersionTLS13, tls.VersionTLS13
	}
	return c
}

// proxyFunc returns the proxy selector for the proxy-routed transport.
//
// A disabled proxy defers to HTTP_PROXY/HTTPS_PROXY/NO_PROXY. An enabled proxy
// routes everything through proxy.address except local hosts (when
// bypass_on_local is set) and hosts matching proxy.bypass_list.
func proxyFunc(pc *config.ProxyConfig) (func(*http.Request) (*url.URL, error), error) {
	if !pc.Enabled {
		return http.ProxyFromEnvironment, nil
	}

	proxyURL, err := url.Parse(pc.Address)
	if err != nil {
		return nil, fmt.Errorf("parse proxy address: %w", err)
	}
	if user := proxyUser(pc); user != nil {
		proxyURL.User = user
	}

	hp := (&httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    strings.Join(pc.BypassList, ","),
	}).ProxyFunc()

	bypassLocal := pc.BypassLocal()
	return func(req *http.Request) (*url.URL, error) {
		// httpproxy never proxies loopback targets, so local hosts are decided here.
		host := req.URL.Hostname()
		if isLocalHost(host) {
			if bypassLocal || inBypassList(host, pc.BypassList) {
				return nil, nil
			}
			return proxyURL, nil
		}
		return hp(req.URL)
	}, nil
}

// inBypassList matches host against bypass_list entries the way NO_PROXY
// does: "*" matches everything, "example.com" matches the domain and its
// subdomains, ".example.com" or "*.example.com" only subdomains, and an IP
// or CIDR entry matches addresses inside it.
func inBypassList(host string, list []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	ip := net.ParseIP(host)
	for _, entry := range list {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if entry == "*" {
			return true
		}
		if _, cidr, err := net.ParseCIDR(entry); err == nil {
			if ip != nil && cidr.Contains(ip) {
				return true
			}
			continue
		}
		if h, _, err := net.SplitHostPort(entry); err == nil {
			entry = h
		}
		if eip := net.ParseIP(entry); eip != nil {
			if ip != nil && eip.Equal(ip) {
				return true
			}
			continue
		}
		entry = strings.TrimPrefix(entry, "*")
		if strings.HasPrefix(entry, ".") {
			if strings.HasSuffix(host, entry) {
				return true
			}
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

// proxyUser returns the explicit proxy credentials, or nil when none are
// configured or ambient credentials were requested. A domain is sent in
// DOMAIN\user form.
func proxyUser(pc *config.ProxyConfig) *url.Userinfo {
	if pc.UseDefaultCredentials || pc.Username == "" {
		return nil
	}
	name := pc.Username
	if pc.Domain != "" {
		name = pc.Domain + `\` + pc.Username
	}
	return url.UserPassword(name, pc.Password)
}

func credentialMode(pc *config.ProxyConfig) string {
	switch {
	case pc.UseDefaultCredentials:
		return "default"
	case pc.Username != "":
		return "explicit"
	default:
		return "none"
	}
}

// isLocalHost reports whether host is a loopback address, "localhost", or a
// single-label intranet name.
func isLocalHost(host string) bool {
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return !strings.Contains(host, ".")
}
