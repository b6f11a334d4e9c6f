package server

import (
	"log/slog"

	"github.com/giantswarm/sns-oauth/security"
)

// ReturnURLParameter carries the post-login target on in-client return URLs.
const ReturnURLParameter = "ReturnUrl"

// Config holds login flow configuration
type Config struct {
	// TrustProxy enables trusting X-Forwarded-For, X-Forwarded-Proto and
	// X-Forwarded-Host when computing the client IP and the absolute URLs
	// sent to the provider.
	// WARNING: Only enable if behind a trusted reverse proxy (nginx, HAProxy, etc.)
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Used with TrustProxy to correctly extract client IP from X-Forwarded-For
	// Default: 1
	TrustedProxyCount int

	// LogClientIPs includes client IP addresses in audit records and spans.
	// Default: false
	LogClientIPs bool
}

// proxy returns the forwarding-header policy for this configuration
func (c *Config) proxy() security.ProxyConfig {
	return security.ProxyConfig{Trust: c.TrustProxy, TrustedProxyCount: c.TrustedProxyCount}
}

// applyDefaults sets default values and warns about risky settings
func applyDefaults(config *Config, logger *slog.Logger) *Config {
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.TrustProxy {
		logger.Warn("SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP and host spoofing if proxy is not properly configured",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
	return config
}
