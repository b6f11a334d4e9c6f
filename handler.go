package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/sns-oauth/instrumentation"
	"github.com/giantswarm/sns-oauth/security"
	"github.com/giantswarm/sns-oauth/server"
)

// Endpoint labels used in metrics and rate limit records.
const (
	endpointChallenge = "challenge"
	endpointCallback  = "callback"
)

// Handler serves the login endpoints of one provider over HTTP.
type Handler struct {
	server      *server.Server
	signIn      SignInHandler
	rateLimiter *security.RateLimiter
	config      *Config
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewHandler builds the login flow for cfg and wraps it in HTTP endpoints.
// signIn persists completed logins (required).
func NewHandler(cfg *Config, signIn SignInHandler) (*Handler, error) {
	if signIn == nil {
		return nil, errors.New("sign-in handler is required")
	}
	srv, err := NewServer(cfg)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		server: srv,
		signIn: signIn,
		config: cfg,
		logger: cfg.logger().With("provider", cfg.Provider.Name),
		tracer: noop.NewTracerProvider().Tracer("http"),
	}
	if cfg.Instrumentation != nil {
		h.tracer = cfg.Instrumentation.Tracer("http")
	}
	if cfg.RateLimit.Rate > 0 {
		h.rateLimiter = security.NewRateLimiter(security.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.Rate,
			Burst:             cfg.RateLimit.Burst,
			MaxEntries:        cfg.RateLimit.MaxEntries,
			CleanupInterval:   cfg.RateLimit.CleanupInterval,
		}, h.logger)
	}
	return h, nil
}

// Server returns the underlying login flow server
func (h *Handler) Server() *server.Server {
	return h.server
}

// ReturnPath is the path the provider redirects back to.
func (h *Handler) ReturnPath() string {
	return h.server.Provider().ReturnPath
}

// Stop releases background resources
func (h *Handler) Stop() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// ServeChallenge starts a login. The post-login target is read from the
// ReturnUrl query parameter and defaults to the configured DefaultRedirect.
func (h *Handler) ServeChallenge(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}
	defer func() { h.recordHTTPMetrics(r, endpointChallenge, sw.code(), start) }()

	ctx, span := h.tracer.Start(r.Context(), "http.challenge")
	defer func() {
		instrumentation.AddHTTPAttributes(span, r.Method, endpointChallenge, sw.code())
		span.End()
	}()
	r = r.WithContext(ctx)

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		sw.Header().Set("Allow", "GET, HEAD")
		h.writeError(sw, r, NewOAuthError(ErrorCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed))
		return
	}
	if h.checkRateLimit(sw, r, endpointChallenge) {
		return
	}

	target := r.URL.Query().Get(server.ReturnURLParameter)
	if target == "" {
		target = h.config.defaultRedirect()
	}
	h.challenge(sw, r, &security.FlowProperties{RedirectURI: target})
}

// ServeCallback completes a login on the provider's return path.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}
	defer func() { h.recordHTTPMetrics(r, endpointCallback, sw.code(), start) }()

	ctx, span := h.tracer.Start(r.Context(), "http.callback")
	defer func() {
		instrumentation.AddHTTPAttributes(span, r.Method, endpointCallback, sw.code())
		span.End()
	}()
	r = r.WithContext(ctx)

	if h.checkRateLimit(sw, r, endpointCallback) {
		return
	}

	outcome := h.server.HandleCallback(sw, r)
	instrumentation.AddOutcomeAttributes(span, outcome.Kind.String(), outcome.Reason)
	h.complete(sw, r, outcome)
}

// Middleware serves the return path and turns 401 responses into provider
// challenges when the wrapped handler called Challenge for this provider.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.server.IsReturnPath(r) {
			h.ServeCallback(w, r)
			return
		}

		r, pending := withChallengeRequests(r)
		cw := &challengeWriter{ResponseWriter: w, handler: h, request: r, pending: pending}
		next.ServeHTTP(cw, r)
	})
}

// challenge redirects the browser to the provider's authorization page.
func (h *Handler) challenge(w http.ResponseWriter, r *http.Request, props *security.FlowProperties) {
	c, err := h.server.BuildChallenge(w, r, props)
	if err != nil {
		if errors.Is(err, server.ErrInvalidRedirect) {
			h.writeError(w, r, ErrInvalidRequest("Redirect target must be local"))
			return
		}
		h.logger.Error("Failed to build challenge",
			"request_id", security.GetRequestID(r.Context()),
			"error", err)
		h.writeError(w, r, ErrServerError("Failed to start login"))
		return
	}
	h.redirect(w, r, c.AuthorizationURL)
}

// complete answers the browser once the callback has been processed.
func (h *Handler) complete(w http.ResponseWriter, r *http.Request, out *server.CallbackOutcome) {
	switch out.Kind {
	case server.NotApplicable:
		h.writeError(w, r, NewOAuthError(ErrorCodeNotFound, "Not found", http.StatusNotFound))
		return
	case server.Completed:
		if out.Handled {
			return
		}
		if err := h.signIn.SignIn(r.Context(), w, r, out.Identity, out.Properties); err != nil {
			h.logger.Error("Sign-in failed",
				"request_id", security.GetRequestID(r.Context()),
				"flow_id", flowID(out),
				"error", err)
			signInErr := ErrServerError("Failed to sign in")
			if h.config.ErrorPath != "" {
				h.redirect(w, r, h.config.ErrorPath+"?"+url.Values{"error": {signInErr.Code}}.Encode())
				return
			}
			h.writeError(w, r, signInErr)
			return
		}
		target := out.RedirectURI
		if target == "" {
			target = h.config.defaultRedirect()
		}
		h.redirect(w, r, target)
	default:
		if out.Handled {
			return
		}
		h.fail(w, r, out, errorForOutcome(out))
	}
}

// fail sends a failed login to ErrorPath, then to the flow's target, and
// answers with a JSON error when neither is available.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, out *server.CallbackOutcome, oauthErr *OAuthError) {
	if h.config.ErrorPath != "" {
		q := url.Values{"error": {oauthErr.Code}}
		if out.Reason != "" {
			q.Set("reason", out.Reason)
		}
		h.redirect(w, r, h.config.ErrorPath+"?"+q.Encode())
		return
	}
	if out.StateDecoded() && out.RedirectURI != "" && out.Reason != server.ReasonInvalidState {
		h.redirect(w, r, out.RedirectURI)
		return
	}
	h.writeError(w, r, oauthErr)
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, target string) {
	security.SetSecurityHeaders(w, r.TLS != nil)
	http.Redirect(w, r, target, http.StatusFound)
}

// checkRateLimit reports true when the request was rejected.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	if h.rateLimiter == nil {
		return false
	}
	clientIP := security.GetClientIP(r, h.config.Server.TrustProxy, h.config.Server.TrustedProxyCount)
	allowed, retryAfter := h.rateLimiter.Check(clientIP)
	if allowed {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "endpoint", endpoint, "request_id", security.GetRequestID(r.Context()))
	if h.config.Instrumentation != nil {
		h.config.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), endpoint)
	}
	auditIP := ""
	if h.config.Server.LogClientIPs {
		auditIP = clientIP
	}
	h.server.Auditor.LogRateLimitExceeded(auditIP, endpoint)

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
	h.writeError(w, r, NewOAuthError(ErrorCodeRateLimitExceeded,
		"Rate limit exceeded. Please try again later.", http.StatusTooManyRequests))
	return true
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// writeError writes a JSON error response
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, oauthErr *OAuthError) {
	security.SetSecurityHeaders(w, r.TLS != nil)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

func (h *Handler) recordHTTPMetrics(r *http.Request, endpoint string, status int, start time.Time) {
	if h.config.Instrumentation == nil {
		return
	}
	h.config.Instrumentation.Metrics().RecordHTTPRequest(context.WithoutCancel(r.Context()), r.Method, endpoint, status, millis(time.Since(start)))
}

// millis converts d to fractional milliseconds, keeping microsecond precision.
func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func flowID(out *server.CallbackOutcome) string {
	if out.Properties == nil {
		return ""
	}
	return out.Properties.FlowID
}

// statusWriter remembers the status code written through it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// code is the status sent so far, 200 when nothing was written explicitly.
func (s *statusWriter) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func (s *statusWriter) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// challengeWriter replaces a 401 with a provider challenge when one was
// requested through Challenge.
type challengeWriter struct {
	http.ResponseWriter
	handler *Handler
	request *http.Request
	pending *challengeRequests

	wroteHeader bool
	intercepted bool
}

func (c *challengeWriter) WriteHeader(status int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true

	if status == http.StatusUnauthorized {
		if props, ok := c.pending.take(c.handler.server.Provider().Name); ok {
			c.intercepted = true
			header := c.ResponseWriter.Header()
			header.Del("Content-Type")
			header.Del("Content-Length")
			header.Del("WWW-Authenticate")
			c.handler.challenge(c.ResponseWriter, c.request, props)
			return
		}
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *challengeWriter) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	if c.intercepted {
		return len(b), nil
	}
	return c.ResponseWriter.Write(b)
}

func (c *challengeWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}
