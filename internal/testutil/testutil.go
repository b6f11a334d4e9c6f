package testutil

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/sns-oauth/security"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateTestKey returns a fresh master key
func GenerateTestKey(t *testing.T) []byte {
	t.Helper()
	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return key
}

// PurposeEncryptor derives an encryptor for purpose from key
func PurposeEncryptor(t *testing.T, key []byte, purpose string) *security.Encryptor {
	t.Helper()
	enc, err := security.NewPurposeEncryptor(key, purpose)
	if err != nil {
		t.Fatalf("NewPurposeEncryptor(%s) error = %v", purpose, err)
	}
	return enc
}

// CapturedLogger returns a debug level text logger writing into the returned buffer
func CapturedLogger() (*bytes.Buffer, *slog.Logger) {
	buf := &bytes.Buffer{}
	return buf, slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
