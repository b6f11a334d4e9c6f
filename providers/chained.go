package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type appTokenResponse struct {
	AccessToken string `json:"access_token"`
}

type persistentCodeResponse struct {
	OpenID         string `json:"openid"`
	UnionID        string `json:"unionid"`
	PersistentCode string `json:"persistent_code"`
}

type sessionTokenResponse struct {
	SessionToken string      `json:"sns_token"`
	ExpiresIn    json.Number `json:"expires_in"`
}

// exchangeChained walks the four dependent calls of the chained exchange:
//
//	(a) app access token from the app credentials
//	(b) persistent code for the temporary authorization code
//	(c) session token for the persistent code
//	(d) profile for the session token
//
// The first failing step ends the chain.
func (e *Exchanger) exchangeChained(ctx context.Context, cfg *Config, code string) (*ExchangeResult, error) {
	creds := cfg.Credentials

	var appToken appTokenResponse
	err := e.do(ctx, cfg, call{
		step:     StepToken,
		method:   http.MethodGet,
		endpoint: cfg.Endpoints.TokenURL,
		query: url.Values{
			"appid":     {creds.AppID},
			"appsecret": {creds.AppSecret},
		},
	}, &appToken)
	if err != nil {
		return nil, err
	}
	if appToken.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response has no access_token", ErrProtocol)
	}

	withToken := url.Values{"access_token": {appToken.AccessToken}}

	var persistent persistentCodeResponse
	err = e.do(ctx, cfg, call{
		step:     StepPersistentCode,
		method:   http.MethodPost,
		endpoint: cfg.Endpoints.PersistentCodeURL,
		query:    withToken,
		jsonBody: map[string]string{"tmp_auth_code": code},
	}, &persistent)
	if err != nil {
		return nil, err
	}
	if persistent.OpenID == "" || persistent.PersistentCode == "" {
		return nil, fmt.Errorf("%w: persistent code response has no openid or persistent_code", ErrProtocol)
	}

	var session sessionTokenResponse
	err = e.do(ctx, cfg, call{
		step:     StepSessionToken,
		method:   http.MethodPost,
		endpoint: cfg.Endpoints.SessionTokenURL,
		query:    withToken,
		jsonBody: map[string]string{
			"openid":          persistent.OpenID,
			"persistent_code": persistent.PersistentCode,
		},
	}, &session)
	if err != nil {
		return nil, err
	}
	if session.SessionToken == "" {
		return nil, fmt.Errorf("%w: session token response has no sns_token", ErrProtocol)
	}
	expiresIn, err := parseSeconds(session.ExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("%w: session token response: %v", ErrProtocol, err)
	}

	var profile RawProfile
	err = e.do(ctx, cfg, call{
		step:     StepProfile,
		method:   http.MethodGet,
		endpoint: cfg.Endpoints.ProfileURL,
		query:    url.Values{"sns_token": {session.SessionToken}},
	}, &profile)
	if err != nil {
		return nil, err
	}
	if cfg.ProfileKeys.Container != "" && profile.Object(cfg.ProfileKeys.Container) == nil {
		return nil, fmt.Errorf("%w: profile response has no %s object", ErrProtocol, cfg.ProfileKeys.Container)
	}

	e.logger.Debug("Chained exchange completed",
		"provider", cfg.Name,
		"has_union_id", persistent.UnionID != "")

	return &ExchangeResult{
		Profile: profile,
		Tokens: Tokens{
			AccessToken:    appToken.AccessToken,
			SecondaryToken: persistent.PersistentCode,
			SessionToken:   session.SessionToken,
			ExpiresIn:      expiresIn,
		},
		OpenID:  persistent.OpenID,
		UnionID: persistent.UnionID,
	}, nil
}
