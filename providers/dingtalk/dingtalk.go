// Package dingtalk describes the DingTalk open platform login.
//
// DingTalk needs four dependent backchannel calls after the browser returns:
// app access token, persistent code, session (sns) token, then the profile.
// The authorization page is either the OAuth2 page used from the DingTalk
// app or the QR connect page used by websites.
package dingtalk

import (
	"fmt"
	"time"

	"github.com/giantswarm/sns-oauth/providers"
)

// ProviderName is the name used in logs, metrics and cookie names.
const ProviderName = "dingtalk"

// ClaimNamespace prefixes the DingTalk claim types.
const ClaimNamespace = "urn:ding"

// DefaultReturnPath is the callback path DingTalk redirects back to.
const DefaultReturnPath = "/signin-dingTalk-callback"

// DingTalk endpoints
const (
	OAuth2AuthorizeURL    = "https://oapi.dingtalk.com/connect/oauth2/sns_authorize"
	QRConnectAuthorizeURL = "https://oapi.dingtalk.com/connect/qrconnect"
	TokenURL              = "https://oapi.dingtalk.com/sns/gettoken"
	PersistentCodeURL     = "https://oapi.dingtalk.com/sns/get_persistent_code"
	SessionTokenURL       = "https://oapi.dingtalk.com/sns/get_sns_token"
	ProfileURL            = "https://oapi.dingtalk.com/sns/getuserinfo"
)

// profileContainer is the object of the getuserinfo response holding the user.
const profileContainer = "user_info"

var defaultScopes = []string{"snsapi_login"}

// Config holds DingTalk application settings.
type Config struct {
	AppID     string
	AppSecret string

	// AuthorizeMode selects the OAuth2 page (default) or the QR connect page.
	AuthorizeMode providers.AuthorizeMode

	// Scopes are optional custom scopes (defaults to ["snsapi_login"]).
	Scopes []string

	// ReturnPath defaults to DefaultReturnPath.
	ReturnPath string

	// BackchannelTimeout bounds each provider call (default: 60s).
	BackchannelTimeout time.Duration
}

// NewConfig builds the provider description for DingTalk.
func NewConfig(cfg *Config) (*providers.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("dingtalk config is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	scopesCopy := make([]string, len(scopes))
	copy(scopesCopy, scopes)

	pc := &providers.Config{
		Name:           ProviderName,
		ClaimNamespace: ClaimNamespace,
		Mode:           providers.ChainedExchange,
		AuthorizeMode:  cfg.AuthorizeMode,
		Credentials: providers.Credentials{
			AppID:     cfg.AppID,
			AppSecret: cfg.AppSecret,
		},
		Scopes:     scopesCopy,
		ReturnPath: cfg.ReturnPath,
		Endpoints: providers.Endpoints{
			OAuth2AuthorizeURL:    OAuth2AuthorizeURL,
			QRConnectAuthorizeURL: QRConnectAuthorizeURL,
			TokenURL:              TokenURL,
			PersistentCodeURL:     PersistentCodeURL,
			SessionTokenURL:       SessionTokenURL,
			ProfileURL:            ProfileURL,
		},
		ProfileKeys: providers.ProfileKeys{
			Container: profileContainer,
			OpenID:    "openid",
			UnionID:   "unionid",
			Name:      "nick",
		},
		BackchannelTimeout: cfg.BackchannelTimeout,
	}
	if pc.ReturnPath == "" {
		pc.ReturnPath = DefaultReturnPath
	}

	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dingtalk config: %w", err)
	}
	return pc, nil
}

// ParseAuthorizeMode maps "oauth2" and "qrconnect" to an AuthorizeMode.
func ParseAuthorizeMode(s string) (providers.AuthorizeMode, error) {
	switch s {
	case "", "oauth2":
		return providers.AuthorizeOAuth2, nil
	case "qrconnect":
		return providers.AuthorizeQRConnect, nil
	default:
		return 0, fmt.Errorf("unknown dingtalk authorize mode %q", s)
	}
}
