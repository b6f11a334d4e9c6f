package server

import (
	"context"
	"net/http"

	"github.com/giantswarm/sns-oauth/providers"
	"github.com/giantswarm/sns-oauth/security"
)

// AuthenticatedContext is passed to Events.Authenticated after the identity
// has been assembled. Hooks may add claims to Identity or adjust Properties.
type AuthenticatedContext struct {
	Request    *http.Request
	Identity   *Identity
	Properties *security.FlowProperties
	Browser    providers.BrowserContext
}

// ReturnEndpointContext is passed to Events.ReturnEndpoint before the host
// signs the user in. Identity is nil for failed attempts.
type ReturnEndpointContext struct {
	Request    *http.Request
	Response   http.ResponseWriter
	Identity   *Identity
	Properties *security.FlowProperties

	// RedirectURI may be rewritten by the hook. Non-local targets are dropped.
	RedirectURI string

	// Handled is set by a hook that wrote the response itself.
	Handled bool
}

// Events lets the host observe and adjust a login. Every method is called
// unconditionally; embed NoopEvents to implement only some of them.
type Events interface {
	// Authenticated runs after a successful exchange. An error fails the login.
	Authenticated(ctx context.Context, ac *AuthenticatedContext) error

	// ReturnEndpoint runs for every callback whose state decoded. An error
	// fails the login.
	ReturnEndpoint(ctx context.Context, rc *ReturnEndpointContext) error
}

// NoopEvents implements Events without side effects.
type NoopEvents struct{}

// Authenticated does nothing
func (NoopEvents) Authenticated(context.Context, *AuthenticatedContext) error { return nil }

// ReturnEndpoint does nothing
func (NoopEvents) ReturnEndpoint(context.Context, *ReturnEndpointContext) error { return nil }
