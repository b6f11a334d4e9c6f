package security

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/giantswarm/sns-oauth/instrumentation"
)

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{"enabled with logger", slog.Default(), true},
		{"disabled with logger", slog.Default(), false},
		{"enabled with nil logger", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			if auditor.enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", auditor.enabled, tt.enabled)
			}
			if auditor.logger == nil {
				t.Error("logger should not be nil")
			}
		})
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		event     Event
		wantLog   bool
		wantLevel string
	}{
		{
			name:    "success is info",
			enabled: true,
			event: Event{
				Type:      EventLoginSucceeded,
				SubjectID: "UNI1",
				Provider:  "wechat",
				IPAddress: "192.168.1.1",
			},
			wantLog:   true,
			wantLevel: "level=INFO",
		},
		{
			name:      "integrity failure is warn",
			enabled:   true,
			event:     Event{Type: EventCorrelationMismatch, Provider: "wechat"},
			wantLog:   true,
			wantLevel: "level=WARN",
		},
		{
			name:    "disabled",
			enabled: false,
			event:   Event{Type: EventLoginSucceeded, SubjectID: "UNI1"},
			wantLog: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), tt.enabled)
			auditor.LogEvent(tt.event)

			out := buf.String()
			if (out != "") != tt.wantLog {
				t.Fatalf("logged = %v, want %v (%q)", out != "", tt.wantLog, out)
			}
			if !tt.wantLog {
				return
			}
			if !strings.Contains(out, "security_audit") || !strings.Contains(out, tt.event.Type) {
				t.Errorf("unexpected log line %q", out)
			}
			if !strings.Contains(out, tt.wantLevel) {
				t.Errorf("log line %q does not contain %s", out, tt.wantLevel)
			}
			if tt.event.SubjectID != "" && strings.Contains(out, tt.event.SubjectID) {
				t.Error("subject id must be hashed")
			}
		})
	}
}

func TestAuditor_Helpers(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

	auditor.LogLoginSucceeded("UNI1", "wechat", "flow-1", "10.0.0.1", "external")
	auditor.LogLoginFailed("dingtalk", "flow-2", "10.0.0.2", "exchange failed")
	auditor.LogProviderDeclined("wechat", "flow-3", "10.0.0.3", "access_denied")
	auditor.LogStateRejected(EventInvalidState, "wechat", "", "10.0.0.4", "invalid return state")
	auditor.LogRateLimitExceeded("10.0.0.5", "callback")

	out := buf.String()
	for _, want := range []string{
		EventLoginSucceeded, EventLoginFailed, EventProviderDeclined, EventInvalidState, EventRateLimitExceeded,
		"access_denied", "flow-2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("audit output missing %q", want)
		}
	}
}

func TestAuditor_NilSafe(t *testing.T) {
	var auditor *Auditor
	auditor.LogEvent(Event{Type: EventLoginSucceeded})
}

func TestHashForLogging(t *testing.T) {
	if got := HashForLogging(""); got != "<empty>" {
		t.Errorf("HashForLogging(\"\") = %q", got)
	}
	h := HashForLogging("UNI1")
	if len(h) != 16 {
		t.Errorf("hash length = %d, want 16", len(h))
	}
	if h != HashForLogging("UNI1") {
		t.Error("hash must be deterministic")
	}
	if h == HashForLogging("UNI2") {
		t.Error("different inputs should hash differently")
	}
}

// auditEventCounts collects sns.audit.events.total per event type.
func auditEventCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "sns.audit.events.total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want Sum[int64]", m.Name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value("event_type")
				counts[v.AsString()] += dp.Value
			}
		}
	}
	return counts
}

func TestAuditor_CountsEvents(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
	}{
		{"audit logging enabled", true},
		{"audit logging disabled", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := sdkmetric.NewManualReader()
			inst, err := instrumentation.New(instrumentation.Config{
				Enabled:       true,
				MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
			})
			if err != nil {
				t.Fatalf("instrumentation.New() error = %v", err)
			}

			auditor := NewAuditor(slog.New(slog.NewTextHandler(io.Discard, nil)), tt.enabled)
			auditor.SetInstrumentation(inst)

			auditor.LogLoginSucceeded("UNI1", "wechat", "flow-1", "", "external")
			auditor.LogStateRejected(EventCorrelationMismatch, "wechat", "flow-2", "", "csrf")
			auditor.LogStateRejected(EventCorrelationMismatch, "wechat", "flow-3", "", "csrf")

			counts := auditEventCounts(t, reader)
			if counts[EventLoginSucceeded] != 1 {
				t.Errorf("%s count = %d, want 1", EventLoginSucceeded, counts[EventLoginSucceeded])
			}
			if counts[EventCorrelationMismatch] != 2 {
				t.Errorf("%s count = %d, want 2", EventCorrelationMismatch, counts[EventCorrelationMismatch])
			}
		})
	}
}
