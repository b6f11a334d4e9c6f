package providers

import (
	"encoding/json"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// RawProfile is the provider's profile payload as decoded JSON. It is kept on
// the assembled identity so hosts can read provider specific fields.
type RawProfile map[string]any

// GetOptionalString returns profile[key] as a string, or "" when the key is
// absent, null, or not a scalar. It never fails.
func GetOptionalString(profile map[string]any, key string) string {
	if profile == nil {
		return ""
	}
	switch v := profile[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Object returns the nested object stored under key, or nil.
func (p RawProfile) Object(key string) map[string]any {
	if key == "" {
		return p
	}
	if nested, ok := p[key].(map[string]any); ok {
		return nested
	}
	return nil
}

// Tokens are the credentials obtained during the exchange.
//
// SECURITY: AccessToken, SecondaryToken and SessionToken are provider
// credentials and must never be logged.
type Tokens struct {
	AccessToken string

	// SecondaryToken is the refresh token (SingleStep) or persistent code (ChainedExchange).
	SecondaryToken string

	// SessionToken is only set by ChainedExchange.
	SessionToken string

	ExpiresIn time.Duration
}

// OAuth2Token converts the tokens into an oauth2.Token. Expiry is computed
// relative to now; the session token is kept as the "sns_token" extra.
func (t Tokens) OAuth2Token(now time.Time) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.SecondaryToken,
		TokenType:    "Bearer",
	}
	if t.ExpiresIn > 0 {
		token.Expiry = now.Add(t.ExpiresIn)
		token.ExpiresIn = int64(t.ExpiresIn / time.Second)
	}
	if t.SessionToken != "" {
		token = token.WithExtra(map[string]any{"sns_token": t.SessionToken})
	}
	return token
}

// ExchangeResult is what a successful backchannel exchange yields.
type ExchangeResult struct {
	Profile RawProfile
	Tokens  Tokens

	// OpenID and UnionID are the identifiers returned by token responses. The
	// assembler falls back to them when the profile omits the fields.
	OpenID  string
	UnionID string
}
