package security

// Event type constants for security audit logging.
const (
	// Flow events

	// EventChallengeIssued is logged when a browser is sent to a provider
	EventChallengeIssued = "challenge_issued"

	// EventLoginSucceeded is logged when a callback yields an identity
	EventLoginSucceeded = "login_succeeded"

	// EventLoginFailed is logged when the exchange or identity assembly fails
	EventLoginFailed = "login_failed"

	// EventProviderDeclined is logged when the provider returns an error
	// parameter, typically because the user declined consent. Expected, not a fault.
	EventProviderDeclined = "provider_declined"

	// State integrity events

	// EventInvalidState is logged when the state parameter cannot be unprotected
	EventInvalidState = "invalid_state"

	// EventStateExpired is logged when an authentic state is past its lifetime
	EventStateExpired = "state_expired"

	// EventCorrelationMismatch is logged when the CSRF correlation check fails
	EventCorrelationMismatch = "correlation_mismatch"

	// EventInvalidRedirect is logged when a non-local redirect target is dropped
	EventInvalidRedirect = "invalid_redirect"

	// Abuse events

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
