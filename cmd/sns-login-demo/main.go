// Package main runs a small web site that signs users in with WeChat and
// DingTalk.
//
// Configuration is read from the environment, see demoConfig. Without a
// Valkey address the correlation records live in the login cookie, or in
// memory when SNS_CORRELATION_BACKEND=memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	oauth "github.com/giantswarm/sns-oauth"
	"github.com/giantswarm/sns-oauth/instrumentation"
	"github.com/giantswarm/sns-oauth/providers"
	"github.com/giantswarm/sns-oauth/providers/dingtalk"
	"github.com/giantswarm/sns-oauth/providers/wechat"
	"github.com/giantswarm/sns-oauth/security"
	"github.com/giantswarm/sns-oauth/server"
	"github.com/giantswarm/sns-oauth/storage/memory"
	"github.com/giantswarm/sns-oauth/storage/valkey"
)

type demoConfig struct {
	Addr          string `env:"SNS_ADDR" envDefault:":8080"`
	EncryptionKey string `env:"SNS_ENCRYPTION_KEY"`
	LogLevel      string `env:"SNS_LOG_LEVEL" envDefault:"info"`
	ErrorPath     string `env:"SNS_ERROR_PATH" envDefault:"/login-error"`

	TrustProxy        bool `env:"SNS_TRUST_PROXY"`
	TrustedProxyCount int  `env:"SNS_TRUSTED_PROXY_COUNT" envDefault:"1"`
	LogClientIPs      bool `env:"SNS_LOG_CLIENT_IPS"`
	SecureCookies     bool `env:"SNS_SECURE_COOKIES"`

	RateLimit float64 `env:"SNS_RATE_LIMIT" envDefault:"5"`
	RateBurst int     `env:"SNS_RATE_BURST" envDefault:"20"`

	CorrelationBackend string `env:"SNS_CORRELATION_BACKEND" envDefault:"cookie"`
	ValkeyAddr         string `env:"SNS_VALKEY_ADDR"`
	ValkeyPassword     string `env:"SNS_VALKEY_PASSWORD"`

	MetricsEnabled bool `env:"SNS_METRICS_ENABLED" envDefault:"true"`

	WeChat   weChatEnv   `envPrefix:"SNS_WECHAT_"`
	DingTalk dingTalkEnv `envPrefix:"SNS_DINGTALK_"`
}

type weChatEnv struct {
	AppID             string        `env:"APP_ID"`
	AppSecret         string        `env:"APP_SECRET"`
	InClientAppID     string        `env:"INCLIENT_APP_ID"`
	InClientAppSecret string        `env:"INCLIENT_APP_SECRET"`
	Scopes            []string      `env:"SCOPES" envSeparator:","`
	Timeout           time.Duration `env:"TIMEOUT" envDefault:"60s"`
}

type dingTalkEnv struct {
	AppID     string        `env:"APP_ID"`
	AppSecret string        `env:"APP_SECRET"`
	Mode      string        `env:"MODE" envDefault:"oauth2"`
	Scopes    []string      `env:"SCOPES" envSeparator:","`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"60s"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sns-login-demo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg demoConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	key, err := masterKey(cfg.EncryptionKey, logger)
	if err != nil {
		return err
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:     "sns-login-demo",
		Enabled:         cfg.MetricsEnabled,
		LogClientIPs:    cfg.LogClientIPs,
		MetricsExporter: metricsExporter(cfg.MetricsEnabled),
	})
	if err != nil {
		return fmt.Errorf("instrumentation: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = inst.Shutdown(ctx)
	}()

	store, closeStore, err := correlationStore(cfg, logger, inst)
	if err != nil {
		return err
	}
	defer closeStore()

	sessionEnc, err := security.NewPurposeEncryptor(key, security.PurposeSession)
	if err != nil {
		return err
	}
	sessions, err := oauth.NewCookieSessions(sessionEnc, oauth.SessionCookieConfig{Secure: cfg.SecureCookies})
	if err != nil {
		return err
	}

	providerConfigs, err := buildProviders(cfg)
	if err != nil {
		return err
	}
	if len(providerConfigs) == 0 {
		return errors.New("no provider configured: set SNS_WECHAT_APP_ID or SNS_DINGTALK_APP_ID")
	}

	handlers := make(map[string]*oauth.Handler, len(providerConfigs))
	for _, pc := range providerConfigs {
		h, err := oauth.NewHandler(&oauth.Config{
			Provider: pc,
			Security: oauth.SecurityConfig{
				EncryptionKey:      key,
				CorrelationCookie:  security.CookieConfig{Secure: cfg.SecureCookies},
				EnableAuditLogging: true,
			},
			RateLimit: oauth.RateLimitConfig{Rate: cfg.RateLimit, Burst: cfg.RateBurst},
			Server: server.Config{
				TrustProxy:        cfg.TrustProxy,
				TrustedProxyCount: cfg.TrustedProxyCount,
				LogClientIPs:      cfg.LogClientIPs,
			},
			ErrorPath:        cfg.ErrorPath,
			CorrelationStore: store,
			Logger:           logger,
			Instrumentation:  inst,
		}, sessions)
		if err != nil {
			return fmt.Errorf("%s: %w", pc.Name, err)
		}
		defer h.Stop()
		handlers[pc.Name] = h
		logger.Info("Provider enabled", "provider", pc.Name, "return_path", pc.ReturnPath)
	}

	router := newRouter(handlers, sessions, cfg.MetricsEnabled)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Callbacks wait on up to four sequential provider calls.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Login demo starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("Server stopped")
	return nil
}

func newRouter(handlers map[string]*oauth.Handler, sessions *oauth.CookieSessions, metrics bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.RequestIDMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	if metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	var site http.Handler = siteRoutes(handlers, sessions)
	for name, h := range handlers {
		r.Get("/login/"+name, h.ServeChallenge)
		site = h.Middleware(site)
	}
	r.Mount("/", site)
	return r
}

// siteRoutes are the demo pages. /account requires a session and asks the
// provider named by ?via= (or the first one) to challenge otherwise.
func siteRoutes(handlers map[string]*oauth.Handler, sessions *oauth.CookieSessions) http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		s, _ := sessions.Session(req)
		names := make([]string, 0, len(handlers))
		for name := range handlers {
			names = append(names, name)
		}
		render(w, http.StatusOK, homePage, map[string]any{"Session": s, "Providers": names})
	})

	r.Get("/account", func(w http.ResponseWriter, req *http.Request) {
		s, err := sessions.Session(req)
		if err != nil {
			via := req.URL.Query().Get("via")
			if _, ok := handlers[via]; !ok {
				for name := range handlers {
					via = name
					break
				}
			}
			oauth.Challenge(req, via, &security.FlowProperties{RedirectURI: "/account"})
			http.Error(w, "sign in required", http.StatusUnauthorized)
			return
		}
		render(w, http.StatusOK, accountPage, s)
	})

	r.Post("/logout", func(w http.ResponseWriter, req *http.Request) {
		sessions.SignOut(w, req)
		http.Redirect(w, req, "/", http.StatusSeeOther)
	})

	r.Get("/login-error", func(w http.ResponseWriter, req *http.Request) {
		render(w, http.StatusUnauthorized, errorPage, map[string]string{
			"Error":  req.URL.Query().Get("error"),
			"Reason": req.URL.Query().Get("reason"),
		})
	})

	return r
}

func buildProviders(cfg demoConfig) ([]*providers.Config, error) {
	var out []*providers.Config

	if cfg.WeChat.AppID != "" {
		pc, err := wechat.NewConfig(&wechat.Config{
			AppID:              cfg.WeChat.AppID,
			AppSecret:          cfg.WeChat.AppSecret,
			InClientAppID:      cfg.WeChat.InClientAppID,
			InClientAppSecret:  cfg.WeChat.InClientAppSecret,
			Scopes:             cfg.WeChat.Scopes,
			BackchannelTimeout: cfg.WeChat.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("wechat: %w", err)
		}
		out = append(out, pc)
	}

	if cfg.DingTalk.AppID != "" {
		mode := providers.AuthorizeOAuth2
		switch cfg.DingTalk.Mode {
		case "oauth2", "":
		case "qrconnect":
			mode = providers.AuthorizeQRConnect
		default:
			return nil, fmt.Errorf("dingtalk: unknown authorize mode %q", cfg.DingTalk.Mode)
		}
		pc, err := dingtalk.NewConfig(&dingtalk.Config{
			AppID:              cfg.DingTalk.AppID,
			AppSecret:          cfg.DingTalk.AppSecret,
			AuthorizeMode:      mode,
			Scopes:             cfg.DingTalk.Scopes,
			BackchannelTimeout: cfg.DingTalk.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("dingtalk: %w", err)
		}
		out = append(out, pc)
	}

	return out, nil
}

// correlationStore selects where correlation records live. A nil store keeps
// them in the encrypted login cookie.
func correlationStore(cfg demoConfig, logger *slog.Logger, inst *instrumentation.Instrumentation) (security.CorrelationStore, func(), error) {
	switch cfg.CorrelationBackend {
	case "cookie", "":
		return nil, func() {}, nil
	case "memory":
		store := memory.New(memory.WithLogger(logger), memory.WithInstrumentation(inst))
		return store, store.Stop, nil
	case "valkey":
		if cfg.ValkeyAddr == "" {
			return nil, nil, errors.New("SNS_VALKEY_ADDR is required for the valkey backend")
		}
		store, err := valkey.New(valkey.Config{
			Address:         cfg.ValkeyAddr,
			Password:        cfg.ValkeyPassword,
			Logger:          logger,
			Instrumentation: inst,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("valkey: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown correlation backend %q", cfg.CorrelationBackend)
	}
}

func masterKey(encoded string, logger *slog.Logger) ([]byte, error) {
	if encoded != "" {
		key, err := security.KeyFromBase64(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid SNS_ENCRYPTION_KEY: %w", err)
		}
		return key, nil
	}
	key, err := security.GenerateKey()
	if err != nil {
		return nil, err
	}
	logger.Warn("SNS_ENCRYPTION_KEY not set, using an ephemeral key",
		"impact", "sessions and logins in flight are lost on restart")
	return key, nil
}

func metricsExporter(enabled bool) string {
	if enabled {
		return instrumentation.MetricsExporterPrometheus
	}
	return ""
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func render(w http.ResponseWriter, status int, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		slog.Error("Failed to render page", "error", err)
	}
}

var homePage = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html><head><title>SNS login demo</title></head>
<body>
{{if .Session}}<p>Signed in as {{.Session.Name}} via {{.Session.Provider}}.</p>
<form method="post" action="/logout"><button>Sign out</button></form>
{{else}}<p>Not signed in.</p>{{end}}
<ul>{{range .Providers}}<li><a href="/login/{{.}}?ReturnUrl=%2Faccount">Sign in with {{.}}</a></li>{{end}}</ul>
<p><a href="/account">Account</a></p>
</body></html>`))

var accountPage = template.Must(template.New("account").Parse(`<!DOCTYPE html>
<html><head><title>Account</title></head>
<body>
<p>Subject: {{.SubjectID}}</p>
<p>Provider: {{.Provider}}</p>
<p>Session expires: {{.ExpiresAt}}</p>
<p><a href="/">Home</a></p>
</body></html>`))

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html><head><title>Sign in failed</title></head>
<body>
<p>Sign in failed: {{.Error}} {{if .Reason}}({{.Reason}}){{end}}</p>
<p><a href="/">Home</a></p>
</body></html>`))
