package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/sns-oauth/providers"
	"github.com/giantswarm/sns-oauth/providers/dingtalk"
	"github.com/giantswarm/sns-oauth/providers/wechat"
	"github.com/giantswarm/sns-oauth/security"
)

// parseAuthURL splits an authorization URL into endpoint, query and fragment.
func parseAuthURL(t *testing.T, raw string) (string, url.Values, string) {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("authorization URL %q does not parse: %v", raw, err)
	}
	fragment := u.Fragment
	endpoint := u.Scheme + "://" + u.Host + u.Path
	return endpoint, u.Query(), fragment
}

func TestBuildChallenge_WeChatExternal(t *testing.T) {
	env := newTestEnv(t, weChatConfig(t))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "http://"+testHost+"/account", nil)
	r.Header.Set("User-Agent", desktopAgent)

	input := &security.FlowProperties{RedirectURI: "/home", Extra: map[string]string{"tenant": "a"}}
	challenge, err := env.srv.BuildChallenge(w, r, input)
	if err != nil {
		t.Fatalf("BuildChallenge() error = %v", err)
	}

	endpoint, query, fragment := parseAuthURL(t, challenge.AuthorizationURL)
	if endpoint != wechat.QRConnectAuthorizeURL {
		t.Errorf("endpoint = %q, want %q", endpoint, wechat.QRConnectAuthorizeURL)
	}
	if fragment != "wechat_redirect" {
		t.Errorf("fragment = %q, want wechat_redirect", fragment)
	}

	wantQuery := map[string]string{
		"appid":         "wx-web",
		"redirect_uri":  "http://example.com/signin-wechatconnect",
		"response_type": "code",
		"scope":         "snsapi_login",
	}
	for k, want := range wantQuery {
		if got := query.Get(k); got != want {
			t.Errorf("query %s = %q, want %q", k, got, want)
		}
	}

	props, err := env.codec.Unprotect(query.Get("state"))
	if err != nil {
		t.Fatalf("state does not unprotect: %v", err)
	}
	if props.RedirectURI != "/home" {
		t.Errorf("state RedirectURI = %q, want /home", props.RedirectURI)
	}
	if props.CorrelationToken == "" {
		t.Error("external flows must carry a correlation token")
	}
	if props.FlowID == "" {
		t.Error("FlowID should be assigned")
	}
	if props.Extra["tenant"] != "a" {
		t.Errorf("Extra not carried: %v", props.Extra)
	}

	if len(w.Result().Cookies()) != 1 {
		t.Errorf("got %d cookies, want the correlation cookie", len(w.Result().Cookies()))
	}

	// caller's properties are copied, not stamped
	if input.CorrelationToken != "" || input.FlowID != "" {
		t.Errorf("input properties were modified: %+v", input)
	}
}

func TestBuildChallenge_WeChatInClient(t *testing.T) {
	env := newTestEnv(t, weChatConfig(t))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "http://"+testHost+"/account", nil)
	r.Header.Set("User-Agent", weChatUserAgent)

	challenge, err := env.srv.BuildChallenge(w, r, &security.FlowProperties{RedirectURI: "/orders?id=7"})
	if err != nil {
		t.Fatalf("BuildChallenge() error = %v", err)
	}
	if challenge.Browser != providers.InClientBrowser {
		t.Errorf("Browser = %v, want in_client", challenge.Browser)
	}

	endpoint, query, fragment := parseAuthURL(t, challenge.AuthorizationURL)
	if endpoint != wechat.OAuth2AuthorizeURL {
		t.Errorf("endpoint = %q, want %q", endpoint, wechat.OAuth2AuthorizeURL)
	}
	if fragment != "wechat_redirect" {
		t.Errorf("fragment = %q, want wechat_redirect", fragment)
	}
	if got := query.Get("appid"); got != "wx-mp" {
		t.Errorf("appid = %q, want the in-client app id", got)
	}
	if got := query.Get("scope"); got != "snsapi_base,snsapi_userinfo" {
		t.Errorf("scope = %q, want comma-joined in-client scopes", got)
	}

	wantReturn := "http://example.com/signin-wechatconnect?ReturnUrl=" + url.QueryEscape("/orders?id=7")
	if got := query.Get("redirect_uri"); got != wantReturn {
		t.Errorf("redirect_uri = %q, want %q", got, wantReturn)
	}

	props, err := env.codec.Unprotect(query.Get("state"))
	if err != nil {
		t.Fatalf("state does not unprotect: %v", err)
	}
	if props.RedirectURI != "" {
		t.Errorf("in-client state should not carry the target, got %q", props.RedirectURI)
	}
	if props.CorrelationToken != "" {
		t.Error("in-client flows are not correlated")
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("in-client flows must not set a correlation cookie")
	}
}

func TestBuildChallenge_DefaultsToCurrentURL(t *testing.T) {
	env := newTestEnv(t, weChatConfig(t))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "http://"+testHost+"/orders?id=7", nil)

	challenge, err := env.srv.BuildChallenge(w, r, nil)
	if err != nil {
		t.Fatalf("BuildChallenge() error = %v", err)
	}
	if got := challenge.Properties.RedirectURI; got != "http://example.com/orders?id=7" {
		t.Errorf("RedirectURI = %q, want the current URL", got)
	}
}

func TestBuildChallenge_DingTalkModes(t *testing.T) {
	tests := []struct {
		name         string
		mode         providers.AuthorizeMode
		wantEndpoint string
	}{
		{"oauth2", providers.AuthorizeOAuth2, dingtalk.OAuth2AuthorizeURL},
		{"qrconnect", providers.AuthorizeQRConnect, dingtalk.QRConnectAuthorizeURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, dingTalkConfig(t, tt.mode))

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "http://"+testHost+"/", nil)
			// DingTalk has no in-client variant
			r.Header.Set("User-Agent", weChatUserAgent)

			challenge, err := env.srv.BuildChallenge(w, r, &security.FlowProperties{RedirectURI: "/home"})
			if err != nil {
				t.Fatalf("BuildChallenge() error = %v", err)
			}

			endpoint, query, fragment := parseAuthURL(t, challenge.AuthorizationURL)
			if endpoint != tt.wantEndpoint {
				t.Errorf("endpoint = %q, want %q", endpoint, tt.wantEndpoint)
			}
			if fragment != "" {
				t.Errorf("fragment = %q, want none", fragment)
			}
			if got := query.Get("appid"); got != "ding-app" {
				t.Errorf("appid = %q, want ding-app", got)
			}
			if got := query.Get("redirect_uri"); got != "http://example.com/signin-dingTalk-callback" {
				t.Errorf("redirect_uri = %q", got)
			}
			if got := query.Get("scope"); got != "snsapi_login" {
				t.Errorf("scope = %q, want snsapi_login", got)
			}
			if len(w.Result().Cookies()) != 1 {
				t.Error("DingTalk flows are always correlated")
			}
		})
	}
}

func TestBuildChallenge_RejectsForeignRedirect(t *testing.T) {
	env := newTestEnv(t, weChatConfig(t))

	targets := []string{
		"https://evil.example/phish",
		"//evil.example/phish",
		"javascript:alert(1)",
	}

	for _, target := range targets {
		t.Run(target, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "http://"+testHost+"/", nil)

			_, err := env.srv.BuildChallenge(w, r, &security.FlowProperties{RedirectURI: target})
			if !errors.Is(err, ErrInvalidRedirect) {
				t.Fatalf("BuildChallenge() error = %v, want ErrInvalidRedirect", err)
			}
			if len(w.Result().Cookies()) != 0 {
				t.Error("no correlation record should be written for rejected challenges")
			}
		})
	}
}

func TestBuildChallenge_TrustedProxy(t *testing.T) {
	env := newTestEnv(t, weChatConfig(t))
	env.srv.Config.TrustProxy = true

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "http://internal:8080/", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "login.example.com")

	challenge, err := env.srv.BuildChallenge(w, r, &security.FlowProperties{RedirectURI: "/home"})
	if err != nil {
		t.Fatalf("BuildChallenge() error = %v", err)
	}
	if challenge.ReturnURI != "https://login.example.com/signin-wechatconnect" {
		t.Errorf("ReturnURI = %q, want the forwarded origin", challenge.ReturnURI)
	}
}

func TestBuildChallenge_DoesNotMutateProvider(t *testing.T) {
	cfg := weChatConfig(t)
	env := newTestEnv(t, cfg)
	scopes := strings.Join(cfg.Scopes, ",")
	inClientScopes := strings.Join(cfg.InClientScopes, ",")

	for _, ua := range []string{desktopAgent, weChatUserAgent} {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "http://"+testHost+"/", nil)
		r.Header.Set("User-Agent", ua)
		if _, err := env.srv.BuildChallenge(w, r, nil); err != nil {
			t.Fatalf("BuildChallenge() error = %v", err)
		}
	}

	if got := strings.Join(cfg.Scopes, ","); got != scopes {
		t.Errorf("Scopes changed to %q", got)
	}
	if got := strings.Join(cfg.InClientScopes, ","); got != inClientScopes {
		t.Errorf("InClientScopes changed to %q", got)
	}
	if cfg.ReturnPath != wechat.DefaultReturnPath {
		t.Errorf("ReturnPath changed to %q", cfg.ReturnPath)
	}
}
