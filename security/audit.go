package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/sns-oauth/instrumentation"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger          *slog.Logger
	enabled         bool
	instrumentation *instrumentation.Instrumentation
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// SetInstrumentation counts every audit event in the audit events metric,
// including events whose log record is suppressed.
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if a != nil {
		a.instrumentation = inst
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	SubjectID string
	Provider  string
	FlowID    string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event. The subject id is hashed.
func (a *Auditor) LogEvent(event Event) {
	if a == nil {
		return
	}
	if a.instrumentation != nil {
		a.instrumentation.Metrics().RecordAuditEvent(context.Background(), event.Type)
	}
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	level := slog.LevelInfo
	if isIntegrityEvent(event.Type) {
		level = slog.LevelWarn
	}

	a.logger.Log(context.Background(), level, "security_audit",
		"event_type", event.Type,
		"subject_hash", HashForLogging(event.SubjectID),
		"provider", event.Provider,
		"flow_id", event.FlowID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogLoginSucceeded logs a completed login
func (a *Auditor) LogLoginSucceeded(subjectID, provider, flowID, ipAddress, browser string) {
	a.LogEvent(Event{
		Type:      EventLoginSucceeded,
		SubjectID: subjectID,
		Provider:  provider,
		FlowID:    flowID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"browser": browser,
		},
	})
}

// LogLoginFailed logs a failed exchange or assembly
func (a *Auditor) LogLoginFailed(provider, flowID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventLoginFailed,
		Provider:  provider,
		FlowID:    flowID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogProviderDeclined logs a provider error parameter
func (a *Auditor) LogProviderDeclined(provider, flowID, ipAddress, remoteError string) {
	a.LogEvent(Event{
		Type:      EventProviderDeclined,
		Provider:  provider,
		FlowID:    flowID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"error": remoteError,
		},
	})
}

// LogStateRejected logs a state integrity failure
func (a *Auditor) LogStateRejected(eventType, provider, flowID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      eventType,
		Provider:  provider,
		FlowID:    flowID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

func isIntegrityEvent(eventType string) bool {
	switch eventType {
	case EventInvalidState, EventStateExpired, EventCorrelationMismatch, EventInvalidRedirect:
		return true
	}
	return false
}

// HashForLogging creates a truncated SHA256 hash of sensitive data for logging
func HashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
