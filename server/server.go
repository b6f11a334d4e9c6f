package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/sns-oauth/instrumentation"
	"github.com/giantswarm/sns-oauth/providers"
	"github.com/giantswarm/sns-oauth/security"
)

// Server runs the login flow for one provider.
// The provider description is shared read-only across requests.
type Server struct {
	provider  *providers.Config
	codec     *security.StateCodec
	guard     *security.CorrelationGuard
	exchanger *providers.Exchanger

	Events  Events
	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	now func() time.Time
}

// New creates a login flow server
func New(
	provider *providers.Config,
	codec *security.StateCodec,
	guard *security.CorrelationGuard,
	exchanger *providers.Exchanger,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider config is required")
	}
	if err := provider.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}
	if codec == nil {
		return nil, fmt.Errorf("state codec is required")
	}
	if guard == nil {
		return nil, fmt.Errorf("correlation guard is required")
	}
	if exchanger == nil {
		return nil, fmt.Errorf("exchanger is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applyDefaults(config, logger)

	return &Server{
		provider:  provider,
		codec:     codec,
		guard:     guard,
		exchanger: exchanger,
		Events:    NoopEvents{},
		Logger:    logger.With("provider", provider.Name),
		Config:    config,
		tracer:    noop.NewTracerProvider().Tracer("server"),
		now:       time.Now,
	}, nil
}

// Provider returns the provider description the server was built with.
func (s *Server) Provider() *providers.Config {
	return s.provider
}

// SetEvents sets the host hooks. Nil restores NoopEvents.
func (s *Server) SetEvents(events Events) {
	if events == nil {
		events = NoopEvents{}
	}
	s.Events = events
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables flow spans and metrics
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	} else {
		s.tracer = noop.NewTracerProvider().Tracer("server")
	}
}

// IsReturnPath reports whether r targets the provider's return path.
// The comparison ignores case.
func (s *Server) IsReturnPath(r *http.Request) bool {
	return strings.EqualFold(r.URL.Path, s.provider.ReturnPath)
}

// clientIP returns the client address for audit records, or "" when IP
// logging is disabled.
func (s *Server) clientIP(r *http.Request) string {
	if !s.Config.LogClientIPs {
		return ""
	}
	return s.Config.proxy().ClientIP(r)
}

// baseURI is scheme://host of the URL the browser used.
func (s *Server) baseURI(r *http.Request) string {
	proxy := s.Config.proxy()
	return proxy.Scheme(r) + "://" + proxy.Host(r)
}

// isLocalRedirect reports whether target stays on the requested host.
func (s *Server) isLocalRedirect(r *http.Request, target string) bool {
	return security.IsLocalRedirect(target, s.Config.proxy().Host(r))
}
