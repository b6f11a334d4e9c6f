package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/sns-oauth/instrumentation"
)

// DefaultStateLifetime is how long a protected state stays valid after the
// challenge. It covers the time the user spends on the provider's pages.
const DefaultStateLifetime = 15 * time.Minute

// MaxStateLength bounds the state parameter accepted by Unprotect.
const MaxStateLength = 4096

const stateVersion = 1

var (
	// ErrInvalidState is returned for malformed, tampered or foreign state values.
	ErrInvalidState = errors.New("invalid state")

	// ErrStateExpired is returned for authentic state values past their lifetime.
	ErrStateExpired = errors.New("state expired")
)

// FlowProperties are the flow scoped values carried through the provider
// redirect inside the protected state.
type FlowProperties struct {
	// RedirectURI is where the user goes after the login. It is one-shot: the
	// callback clears it before handing the properties on.
	RedirectURI string

	// CorrelationToken is the anti-CSRF token, empty for uncorrelated flows.
	CorrelationToken string

	// Extra is a free-form bag for the host application.
	Extra map[string]string

	// FlowID ties the challenge and callback log lines together.
	FlowID string

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Clone returns a deep copy.
func (p *FlowProperties) Clone() *FlowProperties {
	if p == nil {
		return nil
	}
	c := *p
	if p.Extra != nil {
		c.Extra = make(map[string]string, len(p.Extra))
		for k, v := range p.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// statePayload is the encrypted wire form. Times are Unix seconds.
type statePayload struct {
	Version     int               `json:"v"`
	RedirectURI string            `json:"r,omitempty"`
	Correlation string            `json:"c,omitempty"`
	Extra       map[string]string `json:"x"`
	FlowID      string            `json:"f,omitempty"`
	IssuedAt    int64             `json:"iat"`
	ExpiresAt   int64             `json:"exp"`
}

// StateCodec turns FlowProperties into an opaque, encrypted and authenticated
// string suitable for the OAuth2 state parameter, and back.
type StateCodec struct {
	encryptor       *Encryptor
	lifetime        time.Duration
	now             func() time.Time
	logger          *slog.Logger
	instrumentation *instrumentation.Instrumentation
}

// StateCodecOption configures a StateCodec.
type StateCodecOption func(*StateCodec)

// WithStateLifetime sets how long protected states are accepted.
func WithStateLifetime(d time.Duration) StateCodecOption {
	return func(c *StateCodec) {
		if d > 0 {
			c.lifetime = d
		}
	}
}

// WithStateClock overrides the clock, for tests.
func WithStateClock(now func() time.Time) StateCodecOption {
	return func(c *StateCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithStateLogger sets the logger.
func WithStateLogger(logger *slog.Logger) StateCodecOption {
	return func(c *StateCodec) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStateInstrumentation records encryption metrics.
func WithStateInstrumentation(inst *instrumentation.Instrumentation) StateCodecOption {
	return func(c *StateCodec) {
		c.instrumentation = inst
	}
}

// NewStateCodec creates a codec sealing with encryptor, which should be bound
// to PurposeState.
func NewStateCodec(encryptor *Encryptor, opts ...StateCodecOption) (*StateCodec, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	c := &StateCodec{
		encryptor: encryptor,
		lifetime:  DefaultStateLifetime,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lifetime returns the configured state lifetime.
func (c *StateCodec) Lifetime() time.Duration {
	return c.lifetime
}

// Protect seals props without modifying it. Zero IssuedAt is taken as now and
// zero ExpiresAt as IssuedAt plus the lifetime; both are kept at second
// precision in UTC. Extra keeps the nil versus empty distinction.
func (c *StateCodec) Protect(props *FlowProperties) (string, error) {
	if props == nil {
		return "", fmt.Errorf("flow properties are required")
	}

	start := time.Now()
	issuedAt := props.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = c.now()
	}
	expiresAt := props.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = issuedAt.Add(c.lifetime)
	}

	data, err := json.Marshal(statePayload{
		Version:     stateVersion,
		RedirectURI: props.RedirectURI,
		Correlation: props.CorrelationToken,
		Extra:       props.Extra,
		FlowID:      props.FlowID,
		IssuedAt:    issuedAt.Unix(),
		ExpiresAt:   expiresAt.Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}

	state, err := c.encryptor.Seal(data)
	if err != nil {
		return "", fmt.Errorf("failed to seal state: %w", err)
	}

	c.recordOperation("encrypt", start)
	return state, nil
}

// Unprotect opens a state produced by Protect. It returns nil and an error
// wrapping ErrInvalidState or ErrStateExpired for anything else; a partially
// decoded value is never returned.
func (c *StateCodec) Unprotect(state string) (*FlowProperties, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidState)
	}
	if len(state) > MaxStateLength {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrInvalidState, MaxStateLength)
	}

	start := time.Now()
	data, err := c.encryptor.Open(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	c.recordOperation("decrypt", start)

	var payload statePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", ErrInvalidState)
	}
	if payload.Version != stateVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidState, payload.Version)
	}

	expiresAt := time.Unix(payload.ExpiresAt, 0).UTC()
	if IsExpired(expiresAt, c.now()) {
		return nil, ErrStateExpired
	}

	return &FlowProperties{
		RedirectURI:      payload.RedirectURI,
		CorrelationToken: payload.Correlation,
		Extra:            payload.Extra,
		FlowID:           payload.FlowID,
		IssuedAt:         time.Unix(payload.IssuedAt, 0).UTC(),
		ExpiresAt:        expiresAt,
	}, nil
}

func (c *StateCodec) recordOperation(op string, start time.Time) {
	if c.instrumentation == nil {
		return
	}
	durationMs := float64(time.Since(start).Microseconds()) / 1000
	c.instrumentation.Metrics().RecordEncryptionOperation(context.Background(), op, durationMs)
}
