package server

import (
	"github.com/giantswarm/sns-oauth/providers"
	"github.com/giantswarm/sns-oauth/security"
)

// OutcomeKind classifies how a callback ended.
type OutcomeKind int

const (
	// NotApplicable means the request was not for the return path.
	NotApplicable OutcomeKind = iota

	// Completed means an identity was assembled.
	Completed

	// Failed means the attempt ended without an identity.
	Failed
)

// String returns the kind name used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "not_applicable"
	}
}

// Failure reasons reported in CallbackOutcome.Reason.
const (
	ReasonInvalidState      = "invalid return state"
	ReasonCSRF              = "csrf"
	ReasonRemoteError       = "remote error"
	ReasonMissingCode       = "missing code"
	ReasonExchangeFailed    = "exchange failed"
	ReasonSubjectUnresolved = "subject unresolvable"
	ReasonHookFailed        = "hook failed"
	ReasonInternalError     = "internal error"
)

// CallbackOutcome is the result of one callback.
type CallbackOutcome struct {
	Kind     OutcomeKind
	Provider string
	Browser  providers.BrowserContext

	// Identity is set only for Completed.
	Identity *Identity

	// RedirectURI is the validated post-login target, possibly empty.
	RedirectURI string

	// Reason is one of the Reason constants for Failed outcomes.
	Reason string

	// Err keeps the underlying cause of a failure for logging.
	Err error

	// RemoteError is the provider's error parameter, if any.
	RemoteError string

	// Properties are the decoded flow properties with RedirectURI cleared.
	// Nil when the state did not decode.
	Properties *security.FlowProperties

	// Handled is true when an Events hook already wrote the response.
	Handled bool
}

// Message describes a failure for humans: the cause if known, else the reason.
func (o *CallbackOutcome) Message() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return o.Reason
}

// StateDecoded reports whether the callback carried a valid state.
func (o *CallbackOutcome) StateDecoded() bool {
	return o.Properties != nil
}

func notApplicable(provider string) *CallbackOutcome {
	return &CallbackOutcome{Kind: NotApplicable, Provider: provider}
}
