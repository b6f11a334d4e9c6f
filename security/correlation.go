package security

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultCorrelationCookiePrefix names the correlation cookies; the provider
// name is appended.
const DefaultCorrelationCookiePrefix = "__sns_correlation"

// ErrCorrelationMismatch is reported when the token in the state and the token
// held by the browser session differ or either is missing.
var ErrCorrelationMismatch = errors.New("correlation mismatch")

// CorrelationRecorder keeps the per-session copy of a correlation token
// between challenge and callback.
type CorrelationRecorder interface {
	// Record stores token for provider in the current browser session.
	Record(w http.ResponseWriter, r *http.Request, provider, token string, ttl time.Duration) error

	// Consume returns the stored token and forgets it. A missing token is "".
	Consume(w http.ResponseWriter, r *http.Request, provider string) (string, error)
}

// CorrelationStore is the server side store used by StoreRecorder.
// storage.CorrelationStore implementations satisfy it.
type CorrelationStore interface {
	SaveCorrelation(ctx context.Context, handle, token string, ttl time.Duration) error
	ConsumeCorrelation(ctx context.Context, handle string) (string, error)
}

// CorrelationGuard stamps and checks anti-CSRF tokens for provider redirects.
type CorrelationGuard struct {
	recorder CorrelationRecorder
	ttl      time.Duration
	logger   *slog.Logger
}

// NewCorrelationGuard creates a guard. ttl should match the state lifetime.
func NewCorrelationGuard(recorder CorrelationRecorder, ttl time.Duration, logger *slog.Logger) (*CorrelationGuard, error) {
	if recorder == nil {
		return nil, fmt.Errorf("correlation recorder is required")
	}
	if ttl <= 0 {
		ttl = DefaultStateLifetime
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CorrelationGuard{recorder: recorder, ttl: ttl, logger: logger}, nil
}

// Generate creates a random token, stores it in props and mirrors it into the
// browser session through the recorder.
func (g *CorrelationGuard) Generate(w http.ResponseWriter, r *http.Request, provider string, props *FlowProperties) error {
	if props == nil {
		return fmt.Errorf("flow properties are required")
	}

	// 32 random bytes, base64url encoded.
	token := oauth2.GenerateVerifier()
	if err := g.recorder.Record(w, r, provider, token, g.ttl); err != nil {
		return fmt.Errorf("failed to record correlation token: %w", err)
	}
	props.CorrelationToken = token
	return nil
}

// Validate consumes the session copy and compares it with the token in props
// in constant time. It fails closed.
func (g *CorrelationGuard) Validate(w http.ResponseWriter, r *http.Request, provider string, props *FlowProperties) bool {
	return g.Check(w, r, provider, props) == nil
}

// Check is Validate with the reason for a failure.
func (g *CorrelationGuard) Check(w http.ResponseWriter, r *http.Request, provider string, props *FlowProperties) error {
	recorded, err := g.recorder.Consume(w, r, provider)
	if err != nil {
		g.logger.Warn("Failed to read correlation record", "provider", provider, "error", err)
		return fmt.Errorf("%w: %v", ErrCorrelationMismatch, err)
	}

	expected := ""
	if props != nil {
		expected = props.CorrelationToken
	}
	if expected == "" {
		return fmt.Errorf("%w: state carries no token", ErrCorrelationMismatch)
	}
	if recorded == "" {
		return fmt.Errorf("%w: session carries no token", ErrCorrelationMismatch)
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(recorded)) != 1 {
		return fmt.Errorf("%w: tokens differ", ErrCorrelationMismatch)
	}
	return nil
}

// CookieConfig controls the correlation cookie.
type CookieConfig struct {
	// Prefix defaults to DefaultCorrelationCookiePrefix.
	Prefix string

	// Path defaults to "/".
	Path string

	// Secure forces the Secure attribute. Without it the attribute follows
	// whether the request arrived over TLS.
	Secure bool
}

func (c CookieConfig) name(provider string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = DefaultCorrelationCookiePrefix
	}
	return prefix + "." + provider
}

func (c CookieConfig) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

func (c CookieConfig) cookie(r *http.Request, provider, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.name(provider),
		Value:    value,
		Path:     c.path(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c CookieConfig) clear(w http.ResponseWriter, r *http.Request, provider string) {
	http.SetCookie(w, c.cookie(r, provider, "", -1))
}

// CookieRecorder keeps the token in an encrypted, HttpOnly cookie.
type CookieRecorder struct {
	encryptor *Encryptor
	config    CookieConfig
}

// NewCookieRecorder creates a cookie recorder sealing with encryptor, which
// should be bound to PurposeCorrelation.
func NewCookieRecorder(encryptor *Encryptor, config CookieConfig) (*CookieRecorder, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	return &CookieRecorder{encryptor: encryptor, config: config}, nil
}

// Record implements CorrelationRecorder.
func (c *CookieRecorder) Record(w http.ResponseWriter, r *http.Request, provider, token string, ttl time.Duration) error {
	// The provider name is sealed with the token so a cookie cannot be
	// replayed under another provider's name.
	sealed, err := c.encryptor.Seal([]byte(provider + "\n" + token))
	if err != nil {
		return err
	}
	http.SetCookie(w, c.config.cookie(r, provider, sealed, int(ttl/time.Second)))
	return nil
}

// Consume implements CorrelationRecorder. The cookie is always cleared.
func (c *CookieRecorder) Consume(w http.ResponseWriter, r *http.Request, provider string) (string, error) {
	cookie, err := r.Cookie(c.config.name(provider))
	if err != nil {
		return "", nil
	}
	c.config.clear(w, r, provider)

	plain, err := c.encryptor.Open(cookie.Value)
	if err != nil {
		return "", nil
	}
	owner, token, ok := strings.Cut(string(plain), "\n")
	if !ok || owner != provider {
		return "", nil
	}
	return token, nil
}

// StoreRecorder keeps the token server side. The cookie only carries a random
// handle, and the record is consumed atomically so it cannot be replayed.
type StoreRecorder struct {
	store  CorrelationStore
	config CookieConfig
}

// NewStoreRecorder creates a store backed recorder.
func NewStoreRecorder(store CorrelationStore, config CookieConfig) (*StoreRecorder, error) {
	if store == nil {
		return nil, fmt.Errorf("correlation store is required")
	}
	return &StoreRecorder{store: store, config: config}, nil
}

// Record implements CorrelationRecorder.
func (s *StoreRecorder) Record(w http.ResponseWriter, r *http.Request, provider, token string, ttl time.Duration) error {
	handle := oauth2.GenerateVerifier()
	if err := s.store.SaveCorrelation(r.Context(), storeKey(provider, handle), token, ttl); err != nil {
		return err
	}
	http.SetCookie(w, s.config.cookie(r, provider, handle, int(ttl/time.Second)))
	return nil
}

// Consume implements CorrelationRecorder. Unknown handles yield "" without error.
func (s *StoreRecorder) Consume(w http.ResponseWriter, r *http.Request, provider string) (string, error) {
	cookie, err := r.Cookie(s.config.name(provider))
	if err != nil || cookie.Value == "" {
		return "", nil
	}
	s.config.clear(w, r, provider)

	token, err := s.store.ConsumeCorrelation(r.Context(), storeKey(provider, cookie.Value))
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}

func storeKey(provider, handle string) string {
	return provider + ":" + handle
}

// notFounder lets store errors mark themselves as "no such record" without
// this package importing the storage package.
type notFounder interface {
	NotFound() bool
}

func isNotFound(err error) bool {
	var nf notFounder
	return errors.As(err, &nf) && nf.NotFound()
}
