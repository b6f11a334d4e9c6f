package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Step names reported in errors, spans and metrics.
const (
	StepToken          = "token"
	StepPersistentCode = "persistent_code"
	StepSessionToken   = "session_token"
	StepProfile        = "profile"
)

type singleStepTokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    json.Number `json:"expires_in"`
	OpenID       string      `json:"openid"`
	UnionID      string      `json:"unionid"`
}

// exchangeSingleStep redeems the code at the token endpoint, then fetches the
// profile with the returned access token and open id.
func (e *Exchanger) exchangeSingleStep(ctx context.Context, cfg *Config, code string, browser BrowserContext) (*ExchangeResult, error) {
	creds := cfg.CredentialsFor(browser)

	var token singleStepTokenResponse
	err := e.do(ctx, cfg, call{
		step:     StepToken,
		method:   http.MethodPost,
		endpoint: cfg.Endpoints.TokenURL,
		form: url.Values{
			"appid":      {creds.AppID},
			"secret":     {creds.AppSecret},
			"code":       {code},
			"grant_type": {"authorization_code"},
		},
	}, &token)
	if err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response has no access_token", ErrProtocol)
	}
	if token.OpenID == "" {
		return nil, fmt.Errorf("%w: token response has no openid", ErrProtocol)
	}

	expiresIn, err := parseSeconds(token.ExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("%w: token response: %v", ErrProtocol, err)
	}

	var profile RawProfile
	err = e.do(ctx, cfg, call{
		step:     StepProfile,
		method:   http.MethodGet,
		endpoint: cfg.Endpoints.ProfileURL,
		query: url.Values{
			"access_token": {token.AccessToken},
			"openid":       {token.OpenID},
		},
	}, &profile)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Single step exchange completed",
		"provider", cfg.Name,
		"browser", browser.String(),
		"has_refresh_token", token.RefreshToken != "")

	return &ExchangeResult{
		Profile: profile,
		Tokens: Tokens{
			AccessToken:    token.AccessToken,
			SecondaryToken: token.RefreshToken,
			ExpiresIn:      expiresIn,
		},
		OpenID:  token.OpenID,
		UnionID: token.UnionID,
	}, nil
}

// parseSeconds converts an optional expires_in value. An absent value is zero.
func parseSeconds(n json.Number) (time.Duration, error) {
	if n == "" {
		return 0, nil
	}
	secs, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("invalid expires_in %q", n.String())
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative expires_in %d", secs)
	}
	return time.Duration(secs) * time.Second, nil
}
