package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/giantswarm/sns-oauth/security"
	"github.com/giantswarm/sns-oauth/server"
)

// Session cookie defaults.
const (
	DefaultSessionCookieName = "__sns_session"
	DefaultSessionLifetime   = 8 * time.Hour
)

// ErrNoSession is returned by CookieSessions.Session when the request carries
// no valid session.
var ErrNoSession = errors.New("no session")

// Session is the signed-in user as kept in the session cookie.
// Provider tokens are not kept.
type Session struct {
	SubjectID string    `json:"sub"`
	Provider  string    `json:"provider"`
	Name      string    `json:"name,omitempty"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// SessionCookieConfig configures CookieSessions
type SessionCookieConfig struct {
	// Name defaults to DefaultSessionCookieName.
	Name string

	// Lifetime defaults to DefaultSessionLifetime.
	Lifetime time.Duration

	// Secure forces the Secure attribute; otherwise it follows the request's TLS state.
	Secure bool
}

// CookieSessions is a SignInHandler keeping the session in an encrypted cookie.
type CookieSessions struct {
	encryptor *security.Encryptor
	config    SessionCookieConfig
	now       func() time.Time
}

// NewCookieSessions creates a cookie session handler. The encryptor should be
// derived for security.PurposeSession.
func NewCookieSessions(encryptor *security.Encryptor, config SessionCookieConfig) (*CookieSessions, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if config.Name == "" {
		config.Name = DefaultSessionCookieName
	}
	if config.Lifetime <= 0 {
		config.Lifetime = DefaultSessionLifetime
	}
	return &CookieSessions{encryptor: encryptor, config: config, now: time.Now}, nil
}

// SignIn implements SignInHandler
func (c *CookieSessions) SignIn(_ context.Context, w http.ResponseWriter, r *http.Request, identity *server.Identity, _ *security.FlowProperties) error {
	if identity == nil || identity.SubjectID == "" {
		return fmt.Errorf("identity has no subject")
	}

	now := c.now()
	payload, err := json.Marshal(Session{
		SubjectID: identity.SubjectID,
		Provider:  identity.Provider,
		Name:      identity.Name(),
		IssuedAt:  now.UTC(),
		ExpiresAt: now.Add(c.config.Lifetime).UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	value, err := c.encryptor.Seal(payload)
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}

	http.SetCookie(w, c.cookie(r, value, int(c.config.Lifetime.Seconds())))
	return nil
}

// Session returns the session carried by r.
func (c *CookieSessions) Session(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(c.config.Name)
	if err != nil {
		return nil, ErrNoSession
	}
	payload, err := c.encryptor.Open(cookie.Value)
	if err != nil {
		return nil, ErrNoSession
	}

	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, ErrNoSession
	}
	if !c.now().Before(s.ExpiresAt) {
		return nil, ErrNoSession
	}
	return &s, nil
}

// SignOut clears the session cookie
func (c *CookieSessions) SignOut(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, c.cookie(r, "", -1))
}

func (c *CookieSessions) cookie(r *http.Request, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.config.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.config.Secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
}
