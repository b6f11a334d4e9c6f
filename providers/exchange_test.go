package providers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/oauth2"

	"github.com/giantswarm/sns-oauth/instrumentation"
	"github.com/giantswarm/sns-oauth/providers"
	"github.com/giantswarm/sns-oauth/providers/dingtalk"
	"github.com/giantswarm/sns-oauth/providers/mock"
	"github.com/giantswarm/sns-oauth/providers/wechat"
)

func newWeChatConfig(t *testing.T) *providers.Config {
	t.Helper()
	cfg, err := wechat.NewConfig(&wechat.Config{
		AppID: "wx-web", AppSecret: "web-secret",
		InClientAppID: "wx-mp", InClientAppSecret: "mp-secret",
	})
	if err != nil {
		t.Fatalf("wechat.NewConfig() error = %v", err)
	}
	return cfg
}

func newDingTalkConfig(t *testing.T) *providers.Config {
	t.Helper()
	cfg, err := dingtalk.NewConfig(&dingtalk.Config{AppID: "ding-app", AppSecret: "ding-secret"})
	if err != nil {
		t.Fatalf("dingtalk.NewConfig() error = %v", err)
	}
	return cfg
}

func TestExchange_SingleStep(t *testing.T) {
	backend := mock.NewBackchannel()
	defer backend.Close()
	backend.StubWeChat("AT1", "OPEN1", "UNI1", "Alice")

	exchanger := providers.NewExchanger(providers.WithHTTPClient(backend.Client()))
	result, err := exchanger.Exchange(context.Background(), newWeChatConfig(t), "abc123", providers.ExternalBrowser)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if result.Tokens.AccessToken != "AT1" {
		t.Errorf("AccessToken = %q, want AT1", result.Tokens.AccessToken)
	}
	if result.Tokens.SecondaryToken != "RT1" {
		t.Errorf("SecondaryToken = %q, want RT1", result.Tokens.SecondaryToken)
	}
	if result.Tokens.ExpiresIn != 7200*time.Second {
		t.Errorf("ExpiresIn = %v, want 2h", result.Tokens.ExpiresIn)
	}
	if result.OpenID != "OPEN1" {
		t.Errorf("OpenID = %q, want OPEN1", result.OpenID)
	}
	if got := providers.GetOptionalString(result.Profile, "unionid"); got != "UNI1" {
		t.Errorf("profile unionid = %q, want UNI1", got)
	}

	tokenReqs := backend.Requests(mock.WeChatTokenPath)
	if len(tokenReqs) != 1 {
		t.Fatalf("token endpoint called %d times, want 1", len(tokenReqs))
	}
	form := tokenReqs[0].Form
	if tokenReqs[0].Method != http.MethodPost {
		t.Errorf("token method = %s, want POST", tokenReqs[0].Method)
	}
	if form.Get("appid") != "wx-web" || form.Get("secret") != "web-secret" ||
		form.Get("code") != "abc123" || form.Get("grant_type") != "authorization_code" {
		t.Errorf("unexpected token form: %v", form)
	}

	profileReqs := backend.Requests(mock.WeChatProfilePath)
	if len(profileReqs) != 1 {
		t.Fatalf("profile endpoint called %d times, want 1", len(profileReqs))
	}
	if q := profileReqs[0].Query; q.Get("access_token") != "AT1" || q.Get("openid") != "OPEN1" {
		t.Errorf("unexpected profile query: %v", q)
	}
}

func TestExchange_SingleStepInClientCredentials(t *testing.T) {
	backend := mock.NewBackchannel()
	defer backend.Close()
	backend.StubWeChat("AT1", "OPEN1", "", "Alice")

	exchanger := providers.NewExchanger(providers.WithHTTPClient(backend.Client()))
	if _, err := exchanger.Exchange(context.Background(), newWeChatConfig(t), "abc123", providers.InClientBrowser); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	form := backend.Requests(mock.WeChatTokenPath)[0].Form
	if form.Get("appid") != "wx-mp" || form.Get("secret") != "mp-secret" {
		t.Errorf("in-client exchange used %q, want official account credentials", form.Get("appid"))
	}
}

func TestExchange_Chained(t *testing.T) {
	backend := mock.NewBackchannel()
	defer backend.Close()
	backend.StubDingTalk("DOPEN1", "DUNION1", "Bob")

	exchanger := providers.NewExchanger(providers.WithHTTPClient(backend.Client()))
	result, err := exchanger.Exchange(context.Background(), newDingTalkConfig(t), "tmp-code", providers.ExternalBrowser)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if result.Tokens.AccessToken != "APPTOKEN1" {
		t.Errorf("AccessToken = %q, want APPTOKEN1", result.Tokens.AccessToken)
	}
	if result.Tokens.SecondaryToken != "PCODE1" {
		t.Errorf("SecondaryToken = %q, want PCODE1", result.Tokens.SecondaryToken)
	}
	if result.Tokens.SessionToken != "SNS1" {
		t.Errorf("SessionToken = %q, want SNS1", result.Tokens.SessionToken)
	}
	if result.Tokens.ExpiresIn != 7200*time.Second {
		t.Errorf("ExpiresIn = %v, want 2h", result.Tokens.ExpiresIn)
	}
	if result.UnionID != "DUNION1" || result.OpenID != "DOPEN1" {
		t.Errorf("ids = %q/%q", result.OpenID, result.UnionID)
	}

	for _, path := range []string{
		mock.DingTalkTokenPath,
		mock.DingTalkPersistentCodePath,
		mock.DingTalkSessionTokenPath,
		mock.DingTalkProfilePath,
	} {
		if got := backend.Calls(path); got != 1 {
			t.Errorf("%s called %d times, want 1", path, got)
		}
	}

	tokenReq := backend.Requests(mock.DingTalkTokenPath)[0]
	if tokenReq.Query.Get("appid") != "ding-app" || tokenReq.Query.Get("appsecret") != "ding-secret" {
		t.Errorf("unexpected gettoken query: %v", tokenReq.Query)
	}

	persistentReq := backend.Requests(mock.DingTalkPersistentCodePath)[0]
	if persistentReq.Query.Get("access_token") != "APPTOKEN1" {
		t.Errorf("persistent code call missing app token: %v", persistentReq.Query)
	}
	if persistentReq.JSON["tmp_auth_code"] != "tmp-code" {
		t.Errorf("persistent code body = %v", persistentReq.JSON)
	}

	sessionReq := backend.Requests(mock.DingTalkSessionTokenPath)[0]
	if sessionReq.JSON["openid"] != "DOPEN1" || sessionReq.JSON["persistent_code"] != "PCODE1" {
		t.Errorf("session token body = %v", sessionReq.JSON)
	}

	if got := backend.Requests(mock.DingTalkProfilePath)[0].Query.Get("sns_token"); got != "SNS1" {
		t.Errorf("profile sns_token = %q, want SNS1", got)
	}
}

func TestExchange_ChainedShortCircuit(t *testing.T) {
	backend := mock.NewBackchannel()
	defer backend.Close()
	backend.StubDingTalk("DOPEN1", "DUNION1", "Bob")
	backend.Handle(mock.DingTalkPersistentCodePath, http.StatusInternalServerError, `{"message":"boom"}`)

	exchanger := providers.NewExchanger(providers.WithHTTPClient(backend.Client()))
	_, err := exchanger.Exchange(context.Background(), newDingTalkConfig(t), "tmp-code", providers.ExternalBrowser)

	var bcErr *providers.BackchannelError
	if !errors.As(err, &bcErr) {
		t.Fatalf("Exchange() error = %v, want *BackchannelError", err)
	}
	if bcErr.Step != providers.StepPersistentCode || bcErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("BackchannelError = %+v", bcErr)
	}
	if got := backend.Calls(mock.DingTalkSessionTokenPath); got != 0 {
		t.Errorf("session token endpoint called %d times after failure", got)
	}
	if got := backend.Calls(mock.DingTalkProfilePath); got != 0 {
		t.Errorf("profile endpoint called %d times after failure", got)
	}
}

func TestExchange_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(b *mock.Backchannel)
		code  string
	}{
		{
			name: "non-zero errcode with HTTP 200",
			setup: func(b *mock.Backchannel) {
				b.Handle(mock.WeChatTokenPath, http.StatusOK, map[string]any{"errcode": 40029, "errmsg": "invalid code"})
			},
			code: "abc123",
		},
		{
			name: "body is not JSON",
			setup: func(b *mock.Backchannel) {
				b.Handle(mock.WeChatTokenPath, http.StatusOK, "<html>maintenance</html>")
			},
			code: "abc123",
		},
		{
			name: "body is a JSON array",
			setup: func(b *mock.Backchannel) {
				b.Handle(mock.WeChatTokenPath, http.StatusOK, `[]`)
			},
			code: "abc123",
		},
		{
			name: "missing access token",
			setup: func(b *mock.Backchannel) {
				b.Handle(mock.WeChatTokenPath, http.StatusOK, map[string]any{"openid": "OPEN1"})
			},
			code: "abc123",
		},
		{
			name: "invalid expires_in",
			setup: func(b *mock.Backchannel) {
				b.Handle(mock.WeChatTokenPath, http.StatusOK, map[string]any{
					"access_token": "AT1", "openid": "OPEN1", "expires_in": 1.5,
				})
			},
			code: "abc123",
		},
		{
			name:  "empty code",
			setup: func(b *mock.Backchannel) {},
			code:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := mock.NewBackchannel()
			defer backend.Close()
			tt.setup(backend)

			exchanger := providers.NewExchanger(providers.WithHTTPClient(backend.Client()))
			_, err := exchanger.Exchange(context.Background(), newWeChatConfig(t), tt.code, providers.ExternalBrowser)
			if !errors.Is(err, providers.ErrProtocol) {
				t.Fatalf("Exchange() error = %v, want ErrProtocol", err)
			}
			if backend.Calls(mock.WeChatProfilePath) != 0 {
				t.Error("profile endpoint must not be called after a token failure")
			}
		})
	}
}

func TestExchange_ChainedMissingUserInfo(t *testing.T) {
	backend := mock.NewBackchannel()
	defer backend.Close()
	backend.StubDingTalk("DOPEN1", "DUNION1", "Bob")
	backend.Handle(mock.DingTalkProfilePath, http.StatusOK, map[string]any{"errcode": 0})

	exchanger := providers.NewExchanger(providers.WithHTTPClient(backend.Client()))
	_, err := exchanger.Exchange(context.Background(), newDingTalkConfig(t), "tmp-code", providers.ExternalBrowser)
	if !errors.Is(err, providers.ErrProtocol) {
		t.Fatalf("Exchange() error = %v, want ErrProtocol", err)
	}
}

func TestExchange_Timeout(t *testing.T) {
	tests := []struct {
		name       string
		callLimit  time.Duration
		parent     func() (context.Context, context.CancelFunc)
		maxElapsed time.Duration
	}{
		{
			name:      "no parent deadline",
			callLimit: 50 * time.Millisecond,
			parent: func() (context.Context, context.CancelFunc) {
				return context.WithCancel(context.Background())
			},
			maxElapsed: 2 * time.Second,
		},
		{
			name:      "later parent deadline",
			callLimit: 100 * time.Millisecond,
			parent: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), time.Hour)
			},
			maxElapsed: 2 * time.Second,
		},
		{
			name:      "earlier parent deadline",
			callLimit: time.Minute,
			parent: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 50*time.Millisecond)
			},
			maxElapsed: 2 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			release := make(chan struct{})
			slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-release:
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
			}))
			defer slow.Close()
			defer close(release)

			cfg := newWeChatConfig(t)
			cfg.BackchannelTimeout = tt.callLimit
			cfg.Endpoints.TokenURL = slow.URL + "/token"

			ctx, cancel := tt.parent()
			defer cancel()

			exchanger := providers.NewExchanger()
			start := time.Now()
			_, err := exchanger.Exchange(ctx, cfg, "abc123", providers.ExternalBrowser)
			elapsed := time.Since(start)

			var bcErr *providers.BackchannelError
			if !errors.As(err, &bcErr) {
				t.Fatalf("Exchange() error = %v, want *BackchannelError", err)
			}
			if bcErr.StatusCode != 0 {
				t.Errorf("StatusCode = %d, want 0 for a transport failure", bcErr.StatusCode)
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("error should wrap context.DeadlineExceeded, got %v", err)
			}
			if elapsed > tt.maxElapsed {
				t.Errorf("exchange took %v, want under %v", elapsed, tt.maxElapsed)
			}
		})
	}
}

func TestExchange_Cancelled(t *testing.T) {
	backend := mock.NewBackchannel()
	defer backend.Close()
	backend.StubWeChat("AT1", "OPEN1", "UNI1", "Alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exchanger := providers.NewExchanger(providers.WithHTTPClient(backend.Client()))
	_, err := exchanger.Exchange(ctx, newWeChatConfig(t), "abc123", providers.ExternalBrowser)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Exchange() error = %v, want context.Canceled", err)
	}
}

func TestExchange_ContextHTTPClient(t *testing.T) {
	backend := mock.NewBackchannel()
	defer backend.Close()
	backend.StubWeChat("AT1", "OPEN1", "UNI1", "Alice")

	// The default client cannot reach the fake; the context client can.
	exchanger := providers.NewExchanger()
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, backend.Client())

	if _, err := exchanger.Exchange(ctx, newWeChatConfig(t), "abc123", providers.ExternalBrowser); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if backend.TotalCalls() != 2 {
		t.Errorf("TotalCalls() = %d, want 2", backend.TotalCalls())
	}
}

func TestExchange_SpansPerStep(t *testing.T) {
	backend := mock.NewBackchannel()
	defer backend.Close()
	backend.StubDingTalk("DOPEN1", "DUNION1", "Bob")

	recorder := tracetest.NewSpanRecorder()
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:        true,
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
	})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}

	exchanger := providers.NewExchanger(
		providers.WithHTTPClient(backend.Client()),
		providers.WithInstrumentation(inst),
	)
	if _, err := exchanger.Exchange(context.Background(), newDingTalkConfig(t), "tmp-code", providers.ExternalBrowser); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	want := []string{
		"provider.dingtalk.token",
		"provider.dingtalk.persistent_code",
		"provider.dingtalk.session_token",
		"provider.dingtalk.profile",
	}
	ended := recorder.Ended()
	if len(ended) != len(want) {
		t.Fatalf("got %d spans, want %d", len(ended), len(want))
	}
	for i, name := range want {
		if ended[i].Name() != name {
			t.Errorf("span %d = %q, want %q", i, ended[i].Name(), name)
		}
	}
}
