package oauth

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/sns-oauth/instrumentation"
	"github.com/giantswarm/sns-oauth/providers"
	"github.com/giantswarm/sns-oauth/security"
	"github.com/giantswarm/sns-oauth/server"
)

// DefaultRedirect is where completed logins land when the flow carries no target.
const DefaultRedirect = "/"

// Config holds the login handler configuration
// Structured using composition for better organization and maintainability
type Config struct {
	// Provider is the provider description built by wechat.NewConfig or
	// dingtalk.NewConfig (required).
	Provider *providers.Config

	// Security settings (secure by default)
	Security SecurityConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Server holds proxy trust and client IP logging settings.
	Server server.Config

	// ErrorPath receives failed logins as ErrorPath?error=<code>&reason=<reason>.
	// Empty means failures without a target are answered with a JSON error.
	ErrorPath string

	// DefaultRedirect overrides DefaultRedirect.
	DefaultRedirect string

	// CorrelationStore keeps correlation tokens server side. Nil keeps them in
	// an encrypted cookie.
	CorrelationStore security.CorrelationStore

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// HTTPClient is used for backchannel calls. Nil uses a pooled client with
	// the provider's timeout.
	HTTPClient *http.Client

	// Instrumentation enables metrics and traces (optional)
	Instrumentation *instrumentation.Instrumentation
}

// SecurityConfig holds state and correlation protection settings
type SecurityConfig struct {
	// EncryptionKey is the 32 byte master key from which the state, correlation
	// and session keys are derived. Nil generates an ephemeral key, which breaks
	// logins in flight across restarts and between replicas.
	EncryptionKey []byte

	// StateLifetime bounds how long a challenge can be answered (default: 15m).
	StateLifetime time.Duration

	// CorrelationCookie configures the correlation cookie name, path and Secure flag.
	CorrelationCookie security.CookieConfig

	// EnableAuditLogging enables security audit logging.
	EnableAuditLogging bool
}

// RateLimitConfig holds per-IP rate limiting for the login endpoints
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate float64

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// MaxEntries bounds the number of tracked addresses.
	MaxEntries int

	// CleanupInterval is how often to cleanup inactive rate limiters.
	CleanupInterval time.Duration
}

// Validate reports configuration errors
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	if c.Provider == nil {
		return fmt.Errorf("provider is required")
	}
	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("invalid provider config: %w", err)
	}
	if c.Security.EncryptionKey != nil && len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes, got %d", len(c.Security.EncryptionKey))
	}
	if c.Security.StateLifetime < 0 {
		return fmt.Errorf("state lifetime must not be negative")
	}
	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	if c.ErrorPath != "" && !security.IsLocalRedirect(c.ErrorPath, "") {
		return fmt.Errorf("error path must be a local path, got %q", c.ErrorPath)
	}
	return nil
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) defaultRedirect() string {
	if c.DefaultRedirect != "" {
		return c.DefaultRedirect
	}
	return DefaultRedirect
}
