package oauth

import (
	"net/http"
	"strings"
	"testing"

	"github.com/giantswarm/sns-oauth/server"
)

func TestOAuthError_Error(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		description string
		want        string
	}{
		{
			name:        "simple error",
			code:        "invalid_request",
			description: "Missing required parameter",
			want:        "invalid_request: Missing required parameter",
		},
		{
			name:        "error with empty description",
			code:        "server_error",
			description: "",
			want:        "server_error: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &OAuthError{
				Code:        tt.code,
				Description: tt.description,
			}
			if got := e.Error(); got != tt.want {
				t.Errorf("OAuthError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *OAuthError
		wantCode   string
		wantStatus int
	}{
		{"invalid request", ErrInvalidRequest("x"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"server error", ErrServerError("x"), ErrorCodeServerError, http.StatusInternalServerError},
		{"access denied", ErrAccessDenied("x"), ErrorCodeAccessDenied, http.StatusForbidden},
		{"login failed", ErrLoginFailed("x"), ErrorCodeLoginFailed, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
			if tt.err.Description != "x" {
				t.Errorf("Description = %q, want x", tt.err.Description)
			}
		})
	}
}

func TestErrorForOutcome(t *testing.T) {
	tests := []struct {
		reason     string
		wantCode   string
		wantStatus int
	}{
		{server.ReasonRemoteError, ErrorCodeAccessDenied, http.StatusForbidden},
		{server.ReasonMissingCode, ErrorCodeInvalidRequest, http.StatusBadRequest},
		{server.ReasonInternalError, ErrorCodeServerError, http.StatusInternalServerError},
		{server.ReasonInvalidState, ErrorCodeLoginFailed, http.StatusInternalServerError},
		{server.ReasonCSRF, ErrorCodeLoginFailed, http.StatusInternalServerError},
		{server.ReasonExchangeFailed, ErrorCodeLoginFailed, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			out := &server.CallbackOutcome{
				Kind:   server.Failed,
				Reason: tt.reason,
				Err:    &OAuthError{Code: "upstream", Description: "secret upstream detail"},
			}
			got := errorForOutcome(out)
			if got.Code != tt.wantCode || got.Status != tt.wantStatus {
				t.Errorf("errorForOutcome() = %s/%d, want %s/%d", got.Code, got.Status, tt.wantCode, tt.wantStatus)
			}
			if strings.Contains(got.Description, "secret upstream detail") {
				t.Error("upstream error text must not reach the browser")
			}
		})
	}
}
