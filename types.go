package oauth

import (
	"context"
	"net/http"
	"sync"

	"github.com/giantswarm/sns-oauth/security"
)

// ErrorResponse is the JSON body of error responses
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

type challengeContextKey struct{}

// challengeRequests collects the challenges requested while a request is
// served by Middleware, keyed by provider name.
type challengeRequests struct {
	mu      sync.Mutex
	pending map[string]*security.FlowProperties
}

func (c *challengeRequests) request(provider string, props *security.FlowProperties) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if props == nil {
		props = &security.FlowProperties{}
	}
	c.pending[provider] = props
}

func (c *challengeRequests) take(provider string) (*security.FlowProperties, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	props, ok := c.pending[provider]
	delete(c.pending, provider)
	return props, ok
}

// withChallengeRequests returns r with a challenge collector, reusing one
// installed by an outer Middleware.
func withChallengeRequests(r *http.Request) (*http.Request, *challengeRequests) {
	if c, ok := r.Context().Value(challengeContextKey{}).(*challengeRequests); ok {
		return r, c
	}
	c := &challengeRequests{pending: make(map[string]*security.FlowProperties)}
	return r.WithContext(context.WithValue(r.Context(), challengeContextKey{}, c)), c
}

// Challenge asks the Middleware for provider to answer the next 401 written
// for r with a login redirect carrying props. It reports false when no such
// Middleware serves r.
func Challenge(r *http.Request, provider string, props *security.FlowProperties) bool {
	c, ok := r.Context().Value(challengeContextKey{}).(*challengeRequests)
	if !ok {
		return false
	}
	c.request(provider, props)
	return true
}
