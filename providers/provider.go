package providers

import (
	"fmt"
	"strings"
	"time"
)

// DefaultBackchannelTimeout bounds every outbound provider call unless the
// inbound request context carries an earlier deadline.
const DefaultBackchannelTimeout = 60 * time.Second

// ExchangeMode selects the backchannel algorithm a provider speaks.
type ExchangeMode int

const (
	// SingleStep redeems the code at the token endpoint and then fetches the profile.
	SingleStep ExchangeMode = iota

	// ChainedExchange walks app token -> persistent code -> session token -> profile.
	ChainedExchange
)

// String returns the mode name used in logs and metrics.
func (m ExchangeMode) String() string {
	switch m {
	case SingleStep:
		return "single_step"
	case ChainedExchange:
		return "chained_exchange"
	default:
		return fmt.Sprintf("exchange_mode(%d)", int(m))
	}
}

// AuthorizeMode selects which authorization page the browser is sent to.
type AuthorizeMode int

const (
	// AuthorizeOAuth2 uses the app-initiated OAuth2 authorization page.
	AuthorizeOAuth2 AuthorizeMode = iota

	// AuthorizeQRConnect uses the website QR code scan page.
	AuthorizeQRConnect
)

// String returns the mode name used in logs and metrics.
func (m AuthorizeMode) String() string {
	switch m {
	case AuthorizeOAuth2:
		return "oauth2"
	case AuthorizeQRConnect:
		return "qrconnect"
	default:
		return fmt.Sprintf("authorize_mode(%d)", int(m))
	}
}

// BrowserContext tells whether the flow runs in a regular browser or inside the
// provider's own client application.
type BrowserContext int

const (
	// ExternalBrowser is any regular browser.
	ExternalBrowser BrowserContext = iota

	// InClientBrowser is the provider client's embedded browser. It cannot carry
	// the correlation cookie across the provider-hosted redirect, so flows in this
	// context skip correlation and thread the redirect target through the return URL.
	InClientBrowser
)

// String returns the context name used in logs and metrics.
func (b BrowserContext) String() string {
	if b == InClientBrowser {
		return "in_client"
	}
	return "external"
}

// Credentials is an application id and secret pair registered with a provider.
type Credentials struct {
	AppID     string
	AppSecret string
}

// Endpoints holds the compiled-in provider URLs.
type Endpoints struct {
	// OAuth2AuthorizeURL is the app-initiated authorization page.
	OAuth2AuthorizeURL string

	// QRConnectAuthorizeURL is the QR code scan authorization page.
	QRConnectAuthorizeURL string

	// TokenURL redeems the code (SingleStep) or issues the app access token (ChainedExchange).
	TokenURL string

	// PersistentCodeURL and SessionTokenURL are only used by ChainedExchange.
	PersistentCodeURL string
	SessionTokenURL   string

	// ProfileURL returns the user's profile.
	ProfileURL string
}

// ProfileKeys names the profile fields the identity assembler reads.
type ProfileKeys struct {
	// Container is the key of a nested object holding the fields. Empty means top level.
	Container string

	OpenID  string
	UnionID string
	Name    string
}

// Config is the immutable description of one provider: credentials, scopes,
// endpoints and flow variant. Build it with the provider subpackages and do not
// modify it once handed to the server.
type Config struct {
	// Name identifies the provider in logs, metrics and cookie names (e.g. "wechat").
	Name string

	// ClaimNamespace prefixes the provider specific claim types (e.g. "urn:wechat").
	ClaimNamespace string

	Mode          ExchangeMode
	AuthorizeMode AuthorizeMode

	// Credentials are used for external browser flows.
	Credentials Credentials

	// InClientCredentials are used when the flow runs in the provider's client
	// browser. Nil disables in-client detection.
	InClientCredentials *Credentials

	// Scopes are requested in external browser flows.
	Scopes []string

	// InClientScopes are requested in in-client browser flows.
	InClientScopes []string

	// ReturnPath is the callback path the provider redirects back to.
	ReturnPath string

	Endpoints   Endpoints
	ProfileKeys ProfileKeys

	// InClientUserAgent is the User-Agent marker of the provider's client browser.
	InClientUserAgent string

	// AuthorizeFragment is appended verbatim to the authorization URL.
	AuthorizeFragment string

	// BackchannelTimeout bounds each outbound call (default: 60s).
	BackchannelTimeout time.Duration
}

// Validate checks that the configuration can drive a complete flow.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("provider config is required")
	}
	if c.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if c.Credentials.AppID == "" {
		return fmt.Errorf("app id is required")
	}
	if c.Credentials.AppSecret == "" {
		return fmt.Errorf("app secret is required")
	}
	if c.InClientCredentials != nil {
		if c.InClientCredentials.AppID == "" || c.InClientCredentials.AppSecret == "" {
			return fmt.Errorf("in-client app id and secret must both be set")
		}
	}
	if err := ValidateScopes(c.Scopes); err != nil {
		return fmt.Errorf("invalid scopes: %w", err)
	}
	if err := ValidateScopes(c.InClientScopes); err != nil {
		return fmt.Errorf("invalid in-client scopes: %w", err)
	}
	if !strings.HasPrefix(c.ReturnPath, "/") {
		return fmt.Errorf("return path must start with '/', got %q", c.ReturnPath)
	}
	if c.AuthorizationEndpoint(ExternalBrowser) == "" {
		return fmt.Errorf("authorization endpoint for %s mode is required", c.AuthorizeMode)
	}
	if c.InClientCredentials != nil && c.Endpoints.OAuth2AuthorizeURL == "" {
		return fmt.Errorf("in-client flows require the oauth2 authorization endpoint")
	}
	if c.Endpoints.TokenURL == "" || c.Endpoints.ProfileURL == "" {
		return fmt.Errorf("token and profile endpoints are required")
	}
	switch c.Mode {
	case SingleStep:
	case ChainedExchange:
		if c.Endpoints.PersistentCodeURL == "" || c.Endpoints.SessionTokenURL == "" {
			return fmt.Errorf("chained exchange requires persistent code and session token endpoints")
		}
	default:
		return fmt.Errorf("unsupported exchange mode %d", int(c.Mode))
	}
	if c.ProfileKeys.OpenID == "" {
		return fmt.Errorf("profile open id key is required")
	}
	if c.BackchannelTimeout < 0 {
		return fmt.Errorf("backchannel timeout must not be negative")
	}
	return nil
}

// DetectBrowser classifies a request by its User-Agent header.
func (c *Config) DetectBrowser(userAgent string) BrowserContext {
	if c.InClientCredentials == nil || c.InClientUserAgent == "" {
		return ExternalBrowser
	}
	if strings.Contains(userAgent, c.InClientUserAgent) {
		return InClientBrowser
	}
	return ExternalBrowser
}

// RequiresCorrelation reports whether flows in the given context are CSRF correlated.
func (c *Config) RequiresCorrelation(b BrowserContext) bool {
	return b != InClientBrowser
}

// CredentialsFor returns the application credentials for the browser context.
func (c *Config) CredentialsFor(b BrowserContext) Credentials {
	if b == InClientBrowser && c.InClientCredentials != nil {
		return *c.InClientCredentials
	}
	return c.Credentials
}

// ScopesFor returns a copy of the scopes requested in the browser context.
func (c *Config) ScopesFor(b BrowserContext) []string {
	scopes := c.Scopes
	if b == InClientBrowser && len(c.InClientScopes) > 0 {
		scopes = c.InClientScopes
	}
	out := make([]string, len(scopes))
	copy(out, scopes)
	return out
}

// AuthorizationEndpoint picks the authorization page. The in-client browser
// always uses the OAuth2 page; otherwise AuthorizeMode decides.
func (c *Config) AuthorizationEndpoint(b BrowserContext) string {
	if b == InClientBrowser || c.AuthorizeMode == AuthorizeOAuth2 {
		return c.Endpoints.OAuth2AuthorizeURL
	}
	return c.Endpoints.QRConnectAuthorizeURL
}

// Timeout returns the per-call backchannel timeout.
func (c *Config) Timeout() time.Duration {
	if c.BackchannelTimeout <= 0 {
		return DefaultBackchannelTimeout
	}
	return c.BackchannelTimeout
}

// ClaimType builds a provider specific claim type, e.g. "urn:wechat:openid".
func (c *Config) ClaimType(suffix string) string {
	return c.ClaimNamespace + ":" + suffix
}

// ValidateScopes rejects empty, oversized or comma-containing scope values.
// Scopes travel comma-joined, so a comma inside one would split it.
func ValidateScopes(scopes []string) error {
	if len(scopes) > 50 {
		return fmt.Errorf("too many scopes (max 50, got %d)", len(scopes))
	}

	for i, scope := range scopes {
		if scope == "" {
			return fmt.Errorf("scope at index %d is empty", i)
		}
		if len(scope) > 256 {
			return fmt.Errorf("scope at index %d exceeds maximum length of 256 characters", i)
		}
		if strings.ContainsAny(scope, ", ") {
			return fmt.Errorf("scope at index %d contains a separator character", i)
		}
	}

	return nil
}
