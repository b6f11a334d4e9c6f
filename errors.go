package oauth

import (
	"fmt"
	"net/http"

	"github.com/giantswarm/sns-oauth/server"
)

// Error codes written by the login endpoints
const (
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeServerError       = "server_error"
	ErrorCodeAccessDenied      = "access_denied"
	ErrorCodeLoginFailed       = "login_failed"
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
	ErrorCodeNotFound          = "not_found"
)

// OAuthError is an error answered to the browser
type OAuthError struct {
	Code        string // error code (e.g., "access_denied", "login_failed")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrAccessDenied indicates the user or the provider denied the login
	ErrAccessDenied = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
	}

	// ErrLoginFailed indicates the callback could not be turned into an identity
	ErrLoginFailed = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeLoginFailed, desc, http.StatusInternalServerError)
	}
)

// errorForOutcome maps a failed callback to the error answered to the browser.
// Descriptions carry the reason category only, never upstream error text.
func errorForOutcome(out *server.CallbackOutcome) *OAuthError {
	switch out.Reason {
	case server.ReasonRemoteError:
		return ErrAccessDenied("The provider declined the login")
	case server.ReasonMissingCode:
		return ErrInvalidRequest("The callback carries no authorization code")
	case server.ReasonInternalError:
		return ErrServerError("Internal error")
	default:
		return ErrLoginFailed("Login failed: " + out.Reason)
	}
}
