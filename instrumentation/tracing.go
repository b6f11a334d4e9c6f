package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never put provider access tokens, session tokens, persistent
// codes, authorization codes, app secrets or state values into traces or metrics.
// Only record metadata such as presence flags, step names and outcomes.
const (
	// Flow attributes
	AttrProvider       = "sns.provider"
	AttrBrowserContext = "sns.browser_context"
	AttrExchangeMode   = "sns.exchange_mode"
	AttrAuthorizeMode  = "sns.authorize_mode"
	AttrFlowID         = "sns.flow_id"
	AttrOutcome        = "sns.outcome"
	AttrFailureReason  = "sns.failure_reason"
	AttrSubjectHash    = "sns.subject_hash"
	AttrCodePresent    = "sns.code_present"
	AttrRemoteError    = "sns.remote_error"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageBackend   = "storage.backend"

	// Provider attributes
	AttrProviderName      = "provider.name"
	AttrProviderOperation = "provider.operation"
	AttrProviderStatus    = "provider.status"

	// Security attributes
	AttrClientIP            = "security.client_ip"
	AttrEncryptionOperation = "security.encryption.operation"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

func attrStorageBackend(backend string) attribute.KeyValue {
	return attribute.String(AttrStorageBackend, backend)
}

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFlowAttributes adds the provider and browser context of a login flow (nil-safe)
func AddFlowAttributes(span trace.Span, provider, browser string) {
	SetSpanAttributes(span,
		attribute.String(AttrProvider, provider),
		attribute.String(AttrBrowserContext, browser),
	)
}

// AddOutcomeAttributes adds the callback outcome to a span (nil-safe)
func AddOutcomeAttributes(span trace.Span, outcome, reason string) {
	SetSpanAttributes(span, attribute.String(AttrOutcome, outcome))
	if reason != "" {
		SetSpanAttributes(span, attribute.String(AttrFailureReason, reason))
	}
}

// AddProviderAttributes adds provider attributes to a span (nil-safe)
func AddProviderAttributes(span trace.Span, providerName, operation string) {
	SetSpanAttributes(span,
		attribute.String(AttrProviderName, providerName),
		attribute.String(AttrProviderOperation, operation),
	)
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, backend string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attrStorageBackend(backend),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe)
//
// PRIVACY NOTE: check ShouldLogClientIPs() before calling.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
