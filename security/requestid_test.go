package security

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == id2 {
		t.Error("Expected unique request IDs")
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("request ID %q is not a UUID: %v", id1, err)
	}
	if !isValidRequestID(id1) {
		t.Errorf("generated request ID %q fails validation", id1)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want req-123", got)
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q", got)
	}
}

func TestIsValidRequestID(t *testing.T) {
	tests := []struct {
		requestID string
		valid     bool
	}{
		{"abc123", true},
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"trace_id-01", true},
		{"", false},
		{strings.Repeat("a", 129), false},
		{"id\r\nX-Injected: 1", false},
		{"id with spaces", false},
		{"<script>", false},
	}

	for _, tt := range tests {
		t.Run(tt.requestID, func(t *testing.T) {
			if got := isValidRequestID(tt.requestID); got != tt.valid {
				t.Errorf("isValidRequestID(%q) = %v, want %v", tt.requestID, got, tt.valid)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		upstreamID string
		wantKept   bool
	}{
		{"keeps valid upstream id", "upstream-42", true},
		{"replaces missing id", "", false},
		{"replaces invalid id", "bad id\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.upstreamID != "" {
				req.Header.Set(RequestIDHeader, tt.upstreamID)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			header := w.Header().Get(RequestIDHeader)
			if header == "" || header != seen {
				t.Fatalf("header %q and context %q should match and be non-empty", header, seen)
			}
			if tt.wantKept && header != tt.upstreamID {
				t.Errorf("request ID = %q, want upstream %q", header, tt.upstreamID)
			}
			if !tt.wantKept && header == tt.upstreamID {
				t.Error("invalid upstream id should be replaced")
			}
		})
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	RequestLogger(WithRequestID(context.Background(), "req-7"), base).Info("challenge")
	if !strings.Contains(buf.String(), "request_id=req-7") {
		t.Errorf("log = %q, want request_id attribute", buf.String())
	}

	buf.Reset()
	RequestLogger(context.Background(), base).Info("challenge")
	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("log = %q, want no request_id without one in context", buf.String())
	}
}
