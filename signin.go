package oauth

import (
	"context"
	"net/http"

	"github.com/giantswarm/sns-oauth/security"
	"github.com/giantswarm/sns-oauth/server"
)

// SignInHandler persists a completed login in the host's session.
// props are the host values carried through the flow; the one-shot redirect
// target has already been removed from them.
type SignInHandler interface {
	SignIn(ctx context.Context, w http.ResponseWriter, r *http.Request, identity *server.Identity, props *security.FlowProperties) error
}

// SignInFunc adapts a function to SignInHandler
type SignInFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request, identity *server.Identity, props *security.FlowProperties) error

// SignIn implements SignInHandler
func (f SignInFunc) SignIn(ctx context.Context, w http.ResponseWriter, r *http.Request, identity *server.Identity, props *security.FlowProperties) error {
	return f(ctx, w, r, identity, props)
}
