package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/sns-oauth/instrumentation"
)

// Exchanger performs the backchannel calls that turn an authorization code
// into tokens and a profile. It is safe for concurrent use; every exchange is
// independent and only shares the HTTP client.
type Exchanger struct {
	httpClient      *http.Client
	logger          *slog.Logger
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// ExchangerOption configures an Exchanger.
type ExchangerOption func(*Exchanger)

// WithHTTPClient sets the HTTP client used for provider calls.
func WithHTTPClient(client *http.Client) ExchangerOption {
	return func(e *Exchanger) {
		if client != nil {
			e.httpClient = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ExchangerOption {
	return func(e *Exchanger) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithInstrumentation enables provider call metrics and spans.
func WithInstrumentation(inst *instrumentation.Instrumentation) ExchangerOption {
	return func(e *Exchanger) {
		e.instrumentation = inst
		if inst != nil {
			e.tracer = inst.Tracer("provider")
		}
	}
}

// NewExchanger creates an Exchanger. Without WithHTTPClient it uses
// http.DefaultClient; per-call timeouts come from the provider config.
func NewExchanger(opts ...ExchangerOption) *Exchanger {
	e := &Exchanger{
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Exchange redeems code with the provider described by cfg.
//
// The calls run strictly in sequence, each bounded by cfg.Timeout() and by
// ctx. Nothing is retried: authorization codes are single use, so any failure
// ends the login attempt.
func (e *Exchanger) Exchange(ctx context.Context, cfg *Config, code string, browser BrowserContext) (*ExchangeResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provider config is required")
	}
	if code == "" {
		return nil, fmt.Errorf("%w: authorization code is empty", ErrProtocol)
	}

	switch cfg.Mode {
	case SingleStep:
		return e.exchangeSingleStep(ctx, cfg, code, browser)
	case ChainedExchange:
		return e.exchangeChained(ctx, cfg, code)
	default:
		return nil, fmt.Errorf("unsupported exchange mode %s", cfg.Mode)
	}
}

// clientFor honors an *http.Client stored under oauth2.HTTPClient in ctx.
func (e *Exchanger) clientFor(ctx context.Context) *http.Client {
	if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && c != nil {
		return c
	}
	return e.httpClient
}
