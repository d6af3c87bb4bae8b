// File: internal/network/transport.go
package network

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/xkilldash9x/scraperflow/internal/config"
)

// Timeouts of upstream connections made by the forwarder.
const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultKeepAliveInterval     = 15 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
	DefaultIdleConnTimeout       = 30 * time.Second
	DefaultMaxIdleConnsPerHost   = 8
)

// UpstreamURL parses the configured upstream and attaches its credentials.
// An upstream without a scheme is taken to be an HTTP proxy.
func UpstreamURL(cfg config.ProxyConfig) (*url.URL, error) {
	raw := cfg.Upstream
	if raw == "" {
		return nil, fmt.Errorf("no upstream proxy configured")
	}
	if u, err := url.Parse(raw); err != nil || u.Host == "" {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream proxy %q: %w", cfg.Upstream, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported upstream proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream proxy %q has no host", cfg.Upstream)
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u, nil
}

// NewUpstreamTransport creates the transport plain HTTP requests leave the
// forwarder through. net/http sends Proxy-Authorization from upstream's user info.
func NewUpstreamTransport(upstream *url.URL, ignoreTLSErrors bool) *http.Transport {
	dialer := &net.Dialer{Timeout: DefaultDialTimeout, KeepAlive: DefaultKeepAliveInterval}
	return &http.Transport{
		Proxy:                 http.ProxyURL(upstream),
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: ignoreTLSErrors}, //nolint:gosec // opt-in via browser.ignore_tls_errors
	}
}
