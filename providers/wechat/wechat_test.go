package wechat

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/sns-oauth/providers"
)

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{
			name:   "website app only",
			config: &Config{AppID: "wx-web", AppSecret: "secret"},
		},
		{
			name: "with in-client credentials",
			config: &Config{
				AppID: "wx-web", AppSecret: "secret",
				InClientAppID: "wx-mp", InClientAppSecret: "mp-secret",
			},
		},
		{
			name:    "nil config",
			wantErr: "wechat config is required",
		},
		{
			name:    "missing app id",
			config:  &Config{AppSecret: "secret"},
			wantErr: "app id is required",
		},
		{
			name:    "half in-client credentials",
			config:  &Config{AppID: "wx-web", AppSecret: "secret", InClientAppID: "wx-mp"},
			wantErr: "in-client app id and secret must both be set",
		},
		{
			name:    "relative return path",
			config:  &Config{AppID: "wx-web", AppSecret: "secret", ReturnPath: "signin"},
			wantErr: "return path must start with '/'",
		},
		{
			name:    "scope with comma",
			config:  &Config{AppID: "wx-web", AppSecret: "secret", Scopes: []string{"a,b"}},
			wantErr: "invalid scopes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewConfig(tt.config)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("NewConfig() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewConfig() unexpected error = %v", err)
			}
			if cfg.Mode != providers.SingleStep {
				t.Errorf("Mode = %v, want SingleStep", cfg.Mode)
			}
			if cfg.ReturnPath != DefaultReturnPath {
				t.Errorf("ReturnPath = %q, want %q", cfg.ReturnPath, DefaultReturnPath)
			}
			if cfg.Timeout() != providers.DefaultBackchannelTimeout {
				t.Errorf("Timeout() = %v, want %v", cfg.Timeout(), providers.DefaultBackchannelTimeout)
			}
		})
	}
}

func TestConfig_BrowserSelection(t *testing.T) {
	cfg, err := NewConfig(&Config{
		AppID: "wx-web", AppSecret: "secret",
		InClientAppID: "wx-mp", InClientAppSecret: "mp-secret",
		BackchannelTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}

	const wechatUA = "Mozilla/5.0 (iPhone) AppleWebKit/605.1.15 MicroMessenger/8.0.40"

	if got := cfg.DetectBrowser(wechatUA); got != providers.InClientBrowser {
		t.Fatalf("DetectBrowser(wechat UA) = %v, want in_client", got)
	}
	if got := cfg.DetectBrowser("Mozilla/5.0 Firefox/128.0"); got != providers.ExternalBrowser {
		t.Fatalf("DetectBrowser(firefox) = %v, want external", got)
	}

	if cfg.RequiresCorrelation(providers.InClientBrowser) {
		t.Error("in-client browser should skip correlation")
	}
	if !cfg.RequiresCorrelation(providers.ExternalBrowser) {
		t.Error("external browser should require correlation")
	}

	if got := cfg.CredentialsFor(providers.InClientBrowser).AppID; got != "wx-mp" {
		t.Errorf("in-client AppID = %q, want wx-mp", got)
	}
	if got := cfg.CredentialsFor(providers.ExternalBrowser).AppID; got != "wx-web" {
		t.Errorf("external AppID = %q, want wx-web", got)
	}

	if got := strings.Join(cfg.ScopesFor(providers.InClientBrowser), ","); got != "snsapi_base,snsapi_userinfo" {
		t.Errorf("in-client scopes = %q", got)
	}
	if got := strings.Join(cfg.ScopesFor(providers.ExternalBrowser), ","); got != "snsapi_login" {
		t.Errorf("external scopes = %q", got)
	}

	if got := cfg.AuthorizationEndpoint(providers.InClientBrowser); got != OAuth2AuthorizeURL {
		t.Errorf("in-client endpoint = %q", got)
	}
	if got := cfg.AuthorizationEndpoint(providers.ExternalBrowser); got != QRConnectAuthorizeURL {
		t.Errorf("external endpoint = %q", got)
	}
	if cfg.Timeout() != 5*time.Second {
		t.Errorf("Timeout() = %v, want 5s", cfg.Timeout())
	}
}

func TestConfig_NoInClientDetectionWithoutCredentials(t *testing.T) {
	cfg, err := NewConfig(&Config{AppID: "wx-web", AppSecret: "secret"})
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}
	if got := cfg.DetectBrowser("MicroMessenger/8.0"); got != providers.ExternalBrowser {
		t.Errorf("DetectBrowser() = %v, want external when in-client credentials are unset", got)
	}
}

func TestConfig_ScopesAreCopied(t *testing.T) {
	scopes := []string{"snsapi_login"}
	cfg, err := NewConfig(&Config{AppID: "wx-web", AppSecret: "secret", Scopes: scopes})
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}

	scopes[0] = "mutated"
	got := cfg.ScopesFor(providers.ExternalBrowser)
	if got[0] != "snsapi_login" {
		t.Fatalf("config scopes changed with caller slice: %v", got)
	}
	got[0] = "mutated"
	if cfg.ScopesFor(providers.ExternalBrowser)[0] != "snsapi_login" {
		t.Fatal("ScopesFor() must return a copy")
	}
}

func TestParseProfile(t *testing.T) {
	payload := `{
		"openid": "OPEN1",
		"nickname": "Alice",
		"sex": 2,
		"province": "Guangdong",
		"city": "Shenzhen",
		"country": "CN",
		"headimgurl": "https://thirdwx.qlogo.cn/avatar/0",
		"privilege": ["chinaunicom", 3],
		"unionid": "UNI1"
	}`

	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	var raw providers.RawProfile
	if err := dec.Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}

	p := ParseProfile(raw)
	if p.ID() != "UNI1" {
		t.Errorf("ID() = %q, want UNI1", p.ID())
	}
	if p.Nickname != "Alice" || p.City != "Shenzhen" || p.Country != "CN" {
		t.Errorf("unexpected profile: %+v", p)
	}
	if p.Gender != GenderFemale {
		t.Errorf("Gender = %d, want %d", p.Gender, GenderFemale)
	}
	if len(p.Privilege) != 1 || p.Privilege[0] != "chinaunicom" {
		t.Errorf("Privilege = %v, want [chinaunicom]", p.Privilege)
	}
	if p.Language != "" {
		t.Errorf("Language = %q, want empty", p.Language)
	}
}

func TestParseProfile_OpenIDFallback(t *testing.T) {
	p := ParseProfile(providers.RawProfile{"openid": "OPEN1", "unionid": nil})
	if p.ID() != "OPEN1" {
		t.Errorf("ID() = %q, want OPEN1", p.ID())
	}
	if p.Gender != GenderUnknown {
		t.Errorf("Gender = %d, want unknown", p.Gender)
	}
}
