// Package wechat describes the WeChat open platform login.
//
// WeChat redeems the authorization code in a single token call and then reads
// the profile. Inside the WeChat client browser (User-Agent "MicroMessenger")
// the flow uses the official account credentials and scopes, the OAuth2
// authorization page, and no correlation cookie.
package wechat

import (
	"fmt"
	"time"

	"github.com/giantswarm/sns-oauth/providers"
)

// ProviderName is the name used in logs, metrics and cookie names.
const ProviderName = "wechat"

// ClaimNamespace prefixes the WeChat claim types.
const ClaimNamespace = "urn:wechat"

// DefaultReturnPath is the callback path WeChat redirects back to.
const DefaultReturnPath = "/signin-wechatconnect"

// InClientUserAgent marks requests coming from the WeChat client browser.
const InClientUserAgent = "MicroMessenger"

// WeChat endpoints
const (
	QRConnectAuthorizeURL = "https://open.weixin.qq.com/connect/qrconnect"
	OAuth2AuthorizeURL    = "https://open.weixin.qq.com/connect/oauth2/authorize"
	TokenURL              = "https://api.weixin.qq.com/sns/oauth2/access_token"
	ProfileURL            = "https://api.weixin.qq.com/sns/userinfo"
)

// authorizeFragment tells WeChat to redirect instead of rendering a landing page.
const authorizeFragment = "#wechat_redirect"

var (
	defaultScopes         = []string{"snsapi_login"}
	defaultInClientScopes = []string{"snsapi_base", "snsapi_userinfo"}
)

// Config holds WeChat application settings.
type Config struct {
	// AppID and AppSecret belong to the website application (QR code login).
	AppID     string
	AppSecret string

	// InClientAppID and InClientAppSecret belong to the official account used
	// inside the WeChat client browser. Leave both empty to disable in-client
	// detection.
	InClientAppID     string
	InClientAppSecret string

	// Scopes are optional custom scopes (defaults to ["snsapi_login"]).
	Scopes []string

	// InClientScopes default to ["snsapi_base", "snsapi_userinfo"].
	InClientScopes []string

	// ReturnPath defaults to DefaultReturnPath.
	ReturnPath string

	// BackchannelTimeout bounds each provider call (default: 60s).
	BackchannelTimeout time.Duration
}

// NewConfig builds the provider description for WeChat.
func NewConfig(cfg *Config) (*providers.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("wechat config is required")
	}

	pc := &providers.Config{
		Name:           ProviderName,
		ClaimNamespace: ClaimNamespace,
		Mode:           providers.SingleStep,
		AuthorizeMode:  providers.AuthorizeQRConnect,
		Credentials: providers.Credentials{
			AppID:     cfg.AppID,
			AppSecret: cfg.AppSecret,
		},
		Scopes:         copyOrDefault(cfg.Scopes, defaultScopes),
		InClientScopes: copyOrDefault(cfg.InClientScopes, defaultInClientScopes),
		ReturnPath:     cfg.ReturnPath,
		Endpoints: providers.Endpoints{
			OAuth2AuthorizeURL:    OAuth2AuthorizeURL,
			QRConnectAuthorizeURL: QRConnectAuthorizeURL,
			TokenURL:              TokenURL,
			ProfileURL:            ProfileURL,
		},
		ProfileKeys: providers.ProfileKeys{
			OpenID:  "openid",
			UnionID: "unionid",
			Name:    "nickname",
		},
		InClientUserAgent:  InClientUserAgent,
		AuthorizeFragment:  authorizeFragment,
		BackchannelTimeout: cfg.BackchannelTimeout,
	}
	if pc.ReturnPath == "" {
		pc.ReturnPath = DefaultReturnPath
	}
	if cfg.InClientAppID != "" || cfg.InClientAppSecret != "" {
		pc.InClientCredentials = &providers.Credentials{
			AppID:     cfg.InClientAppID,
			AppSecret: cfg.InClientAppSecret,
		}
	}

	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid wechat config: %w", err)
	}
	return pc, nil
}

func copyOrDefault(scopes, defaults []string) []string {
	if len(scopes) == 0 {
		scopes = defaults
	}
	out := make([]string, len(scopes))
	copy(out, scopes)
	return out
}
