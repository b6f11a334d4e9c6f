package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/sns-oauth/instrumentation"
	"github.com/giantswarm/sns-oauth/providers"
	"github.com/giantswarm/sns-oauth/security"
)

// ErrInvalidRedirect is returned when a caller supplied redirect target leaves the host.
var ErrInvalidRedirect = errors.New("redirect target must be local")

// Challenge is a ready-to-send authorization redirect.
type Challenge struct {
	// AuthorizationURL is the provider page the browser must be sent to.
	AuthorizationURL string

	// ReturnURI is the absolute callback URL registered in the redirect.
	ReturnURI string

	Browser providers.BrowserContext

	// Properties are the values protected into the state parameter.
	Properties *security.FlowProperties
}

// BuildChallenge computes the provider authorization URL for r.
//
// props may carry the post-login target and host data; it is copied, never
// modified. Without a target the current URL is used. External browsers get
// a correlation record written through w; the in-client browser instead
// carries the target on the return URL.
func (s *Server) BuildChallenge(w http.ResponseWriter, r *http.Request, props *security.FlowProperties) (*Challenge, error) {
	browser := s.provider.DetectBrowser(r.UserAgent())

	ctx, span := s.startSpan(r, "challenge", browser)
	defer span.End()
	r = r.WithContext(ctx)

	if props == nil {
		props = &security.FlowProperties{}
	} else {
		props = props.Clone()
	}
	if props.FlowID == "" {
		props.FlowID = uuid.NewString()
	}

	base := s.baseURI(r)
	if props.RedirectURI == "" {
		props.RedirectURI = base + r.URL.RequestURI()
	} else if !s.isLocalRedirect(r, props.RedirectURI) {
		s.Auditor.LogStateRejected(security.EventInvalidRedirect, s.provider.Name, props.FlowID, s.clientIP(r), "challenge target is not local")
		err := fmt.Errorf("%w: %q", ErrInvalidRedirect, props.RedirectURI)
		instrumentation.RecordError(span, err)
		return nil, err
	}

	returnURI := base + s.provider.ReturnPath
	if s.provider.RequiresCorrelation(browser) {
		if err := s.guard.Generate(w, r, s.provider.Name, props); err != nil {
			err = fmt.Errorf("failed to generate correlation token: %w", err)
			instrumentation.RecordError(span, err)
			return nil, err
		}
	} else {
		returnURI += "?" + ReturnURLParameter + "=" + url.QueryEscape(props.RedirectURI)
		props.RedirectURI = ""
	}

	state, err := s.codec.Protect(props)
	if err != nil {
		err = fmt.Errorf("failed to protect state: %w", err)
		instrumentation.RecordError(span, err)
		return nil, err
	}

	creds := s.provider.CredentialsFor(browser)

	// Encode sorts keys, which yields appid, redirect_uri, response_type, scope, state.
	query := url.Values{}
	query.Set("appid", creds.AppID)
	query.Set("redirect_uri", returnURI)
	query.Set("response_type", "code")
	query.Set("scope", strings.Join(s.provider.ScopesFor(browser), ","))
	query.Set("state", state)

	authURL := s.provider.AuthorizationEndpoint(browser) + "?" + query.Encode() + s.provider.AuthorizeFragment

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordChallengeIssued(ctx, s.provider.Name, browser.String())
	}
	s.Auditor.LogEvent(security.Event{
		Type:      security.EventChallengeIssued,
		Provider:  s.provider.Name,
		FlowID:    props.FlowID,
		IPAddress: s.clientIP(r),
		Details: map[string]any{
			"browser":            browser.String(),
			"authorize_endpoint": s.provider.AuthorizationEndpoint(browser),
		},
	})
	instrumentation.SetSpanSuccess(span)
	security.RequestLogger(r.Context(), s.Logger).Debug("Issued authorization challenge",
		"flow_id", props.FlowID,
		"browser", browser.String())

	return &Challenge{
		AuthorizationURL: authURL,
		ReturnURI:        returnURI,
		Browser:          browser,
		Properties:       props,
	}, nil
}

// startSpan starts a flow span carrying provider and browser attributes.
func (s *Server) startSpan(r *http.Request, name string, browser providers.BrowserContext) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(r.Context(), "flow."+name)
	instrumentation.AddFlowAttributes(span, s.provider.Name, browser.String())
	if s.instrumentation != nil && s.instrumentation.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, s.Config.proxy().ClientIP(r))
	}
	return ctx, span
}
